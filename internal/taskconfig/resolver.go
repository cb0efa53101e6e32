package taskconfig

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"lazyrun/internal/lazyerrors"
	"lazyrun/internal/workspace"
)

// ConfigResolver is the collaborator contract the graph builder and
// cache engine depend on (spec.md §2 item 2, §6): given a workspace and
// script, produce its resolved TaskConfig.
type ConfigResolver interface {
	Resolve(ws workspace.Workspace, script string) (TaskConfig, error)
}

// scriptDoc is one entry of the "tasks" map in lazyrun.yaml.
type scriptDoc struct {
	Mode                       string         `mapstructure:"mode"`
	Parallel                   *bool          `mapstructure:"parallel"`
	RunsAfter                  []runsAfterDoc `mapstructure:"runsAfter"`
	Include                    []string       `mapstructure:"include"`
	Exclude                    []string       `mapstructure:"exclude"`
	Output                     []string       `mapstructure:"outputs"`
	UsesOutputFromDependencies *bool          `mapstructure:"usesOutputFromDependencies"`
	InheritBaseCache           *bool          `mapstructure:"inheritBaseCache"`
	BaseCommand                string         `mapstructure:"baseCommand"`
	Env                        []string       `mapstructure:"env"`
}

type runsAfterDoc struct {
	Script     string `mapstructure:"script"`
	Scope      string `mapstructure:"scope"`
	UsesOutput bool   `mapstructure:"usesOutput"`
}

type configDoc struct {
	Tasks map[string]scriptDoc `mapstructure:"tasks"`
}

// YAMLResolver reads a single lazyrun.yaml document at the project root
// (turborepo/lage-style "tasks" pipeline) via viper, and produces a
// TaskConfig per (workspace, script) using workspace-name overrides
// layered over per-script defaults.
//
// A workspace-specific override is looked up under the top-level key
// "workspaceOverrides.<script>.<workspaceName>" and merged over the
// script-level defaults at "tasks.<script>".
type YAMLResolver struct {
	projectRoot string
	doc         configDoc
	overrides   map[string]map[string]scriptDoc // script -> workspace name -> override
}

// NewYAMLResolver loads and validates lazyrun.yaml from projectRoot.
// A missing file is not an error: every script falls back to built-in
// defaults (independent mode, parallel, `{workspaceDir}/**/*` include).
func NewYAMLResolver(projectRoot string) (*YAMLResolver, error) {
	v := viper.New()
	v.SetConfigName("lazyrun")
	v.SetConfigType("yaml")
	v.AddConfigPath(projectRoot)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, lazyerrors.Wrap(err, "reading lazyrun.yaml")
		}
	}

	var doc configDoc
	if err := v.Unmarshal(&doc); err != nil {
		return nil, lazyerrors.Wrap(err, "parsing lazyrun.yaml")
	}

	overrides := map[string]map[string]scriptDoc{}
	if v.IsSet("workspaceOverrides") {
		var raw map[string]map[string]scriptDoc
		if err := v.UnmarshalKey("workspaceOverrides", &raw); err != nil {
			return nil, lazyerrors.Wrap(err, "parsing workspaceOverrides")
		}
		overrides = raw
	}

	r := &YAMLResolver{projectRoot: projectRoot, doc: doc, overrides: overrides}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *YAMLResolver) validate() error {
	for script, sd := range r.doc.Tasks {
		switch ExecutionMode(sd.Mode) {
		case "", ModeIndependent, ModeDependent, ModeTopLevel:
		default:
			return lazyerrors.Wrapf(lazyerrors.ErrInvalidConfig, "task %q: unknown mode %q", script, sd.Mode)
		}
		for _, ra := range sd.RunsAfter {
			switch RunsAfterScope(ra.Scope) {
			case "", ScopeSelfOnly, ScopeSelfAndDependencies, ScopeAll:
			default:
				return lazyerrors.Wrapf(lazyerrors.ErrInvalidConfig, "task %q: runsAfter %q has unknown scope %q", script, ra.Script, ra.Scope)
			}
			if ra.Script == "" {
				return lazyerrors.Wrapf(lazyerrors.ErrInvalidConfig, "task %q: runsAfter entry missing script name", script)
			}
		}
	}
	return nil
}

// Resolve implements ConfigResolver.
func (r *YAMLResolver) Resolve(ws workspace.Workspace, script string) (TaskConfig, error) {
	base := r.doc.Tasks[script]
	if override, ok := r.overrides[script][ws.Name]; ok {
		base = mergeScriptDoc(base, override)
	}

	cfg := TaskConfig{
		Mode:        ExecutionMode(base.Mode),
		Parallel:    true,
		BaseCommand: base.BaseCommand,
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeIndependent
	}
	if base.Parallel != nil {
		cfg.Parallel = *base.Parallel
	}

	for _, ra := range base.RunsAfter {
		scope := RunsAfterScope(ra.Scope)
		if scope == "" {
			scope = ScopeAll
		}
		cfg.RunsAfter = append(cfg.RunsAfter, RunsAfter{
			UpstreamScript: ra.Script,
			Scope:          scope,
			UsesOutput:     ra.UsesOutput,
		})
	}

	cfg.Cache = CacheRules{
		Include:          base.Include,
		Exclude:          base.Exclude,
		Output:           base.Output,
		InheritBaseCache: true,
		EnvNames:         base.Env,
	}
	if base.UsesOutputFromDependencies != nil {
		cfg.Cache.UsesOutputFromDependencies = *base.UsesOutputFromDependencies
	}
	if base.InheritBaseCache != nil {
		cfg.Cache.InheritBaseCache = *base.InheritBaseCache
	}

	lazyDir := filepath.Join(ws.Dir, ".lazy", script)
	cfg.ManifestPath = filepath.Join(lazyDir, "manifest.tsv")
	cfg.OutputManifestPath = filepath.Join(lazyDir, "output-manifest.tsv")
	cfg.CacheOutputDir = filepath.Join(lazyDir, "output")
	cfg.CapturedLogPath = filepath.Join(lazyDir, "output.log")

	return cfg, nil
}

func mergeScriptDoc(base, override scriptDoc) scriptDoc {
	out := base
	if override.Mode != "" {
		out.Mode = override.Mode
	}
	if override.Parallel != nil {
		out.Parallel = override.Parallel
	}
	if override.RunsAfter != nil {
		out.RunsAfter = override.RunsAfter
	}
	if override.Include != nil {
		out.Include = override.Include
	}
	if override.Exclude != nil {
		out.Exclude = override.Exclude
	}
	if override.Output != nil {
		out.Output = override.Output
	}
	if override.UsesOutputFromDependencies != nil {
		out.UsesOutputFromDependencies = override.UsesOutputFromDependencies
	}
	if override.InheritBaseCache != nil {
		out.InheritBaseCache = override.InheritBaseCache
	}
	if override.BaseCommand != "" {
		out.BaseCommand = override.BaseCommand
	}
	if override.Env != nil {
		out.Env = override.Env
	}
	return out
}

var _ fmt.Stringer = ExecutionMode("")

// String satisfies fmt.Stringer for readable log fields.
func (m ExecutionMode) String() string { return string(m) }
