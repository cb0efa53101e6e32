// Package taskconfig defines the per-(workspace, script) configuration
// model the graph builder and cache engine consume, plus a viper-backed
// reference resolver.
package taskconfig

// ExecutionMode is the closed set of ways a script can be expanded
// across workspaces (spec.md §3).
type ExecutionMode string

const (
	// ModeIndependent runs the script only in the requested workspace.
	ModeIndependent ExecutionMode = "independent"
	// ModeDependent additionally runs the script in every local
	// dependency workspace that declares it.
	ModeDependent ExecutionMode = "dependent"
	// ModeTopLevel is accepted by YAMLResolver's validation, but the
	// graph builder and orchestrator do not read it: a script runs once
	// against the project root when Project.IsTopLevelScript reports it,
	// whatever its configured mode.
	ModeTopLevel ExecutionMode = "top-level"
)

// RunsAfterScope controls which workspaces' copies of the upstream
// script become dependencies of a runsAfter relation.
type RunsAfterScope string

const (
	// ScopeSelfOnly limits the upstream dependency to this workspace.
	ScopeSelfOnly RunsAfterScope = "self-only"
	// ScopeSelfAndDependencies also includes local dependency
	// workspaces that declare the upstream script.
	ScopeSelfAndDependencies RunsAfterScope = "self-and-dependencies"
	// ScopeAll includes every workspace's copy of the upstream script,
	// with no filter. This is the default when unspecified.
	ScopeAll RunsAfterScope = "all"
)

// RunsAfter declares that a task must run after upstreamScript within
// scope, and whether that upstream's output files become inputs of
// this task (spec.md §4.3 item 4).
type RunsAfter struct {
	UpstreamScript string
	Scope          RunsAfterScope
	UsesOutput     bool
}

// CacheRules controls what the Input Manifest engine and Output Cache
// engine treat as this task's inputs and outputs.
type CacheRules struct {
	Include                    []string
	Exclude                    []string
	Output                     []string
	UsesOutputFromDependencies bool
	InheritBaseCache           bool
	// EnvNames lists environment variable names whose values are hashed
	// into the input manifest as environment inputs (spec.md §4.3 item 5).
	EnvNames []string
}

// TaskConfig is the fully resolved configuration for one
// (workspace, script) pair, derived from the user's configuration
// document and treated as immutable during a run.
type TaskConfig struct {
	Mode        ExecutionMode
	Parallel    bool
	RunsAfter   []RunsAfter
	Cache       CacheRules
	BaseCommand string // optional override of the workspace's declared command

	ManifestPath       string
	OutputManifestPath string
	CacheOutputDir     string
	CapturedLogPath    string
}

// RequestedTask is a single script invocation requested by the caller
// for the current run (spec.md §3). Its lifetime is one invocation.
type RequestedTask struct {
	Script      string
	ExtraArgs   []string
	Force       bool
	FilterPaths []string
}
