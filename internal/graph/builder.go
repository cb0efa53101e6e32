package graph

import (
	"path/filepath"
	"sort"
	"strings"

	"lazyrun/internal/lazyerrors"
	"lazyrun/internal/taskconfig"
	"lazyrun/internal/workspace"
)

// Build expands requested tasks into a Graph, implementing the
// depth-first expansion algorithm of spec.md §4.1. Cycle detection is
// path-based: a key re-encountered on the current visitation path is a
// cycle, but a key already fully scheduled from an earlier, unrelated
// branch is simply reused (spec.md §4.1, §9).
func Build(proj *workspace.Project, resolver taskconfig.ConfigResolver, requests []taskconfig.RequestedTask) (*Graph, error) {
	b := &builder{
		proj:     proj,
		resolver: resolver,
		nodes:    map[TaskKey]*ScheduledTask{},
		onPath:   map[TaskKey]bool{},
	}

	for _, req := range requests {
		targets, err := b.resolveTargets(req)
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return nil, lazyerrors.Wrapf(lazyerrors.ErrUnknownScript, "no targeted workspace declares script %q", req.Script)
		}
		for _, ws := range targets {
			if _, err := b.visit(ws, req.Script, req.ExtraArgs, req.Force, nil); err != nil {
				return nil, err
			}
		}
	}

	return &Graph{Nodes: b.nodes, Ordered: b.ordered}, nil
}

type builder struct {
	proj     *workspace.Project
	resolver taskconfig.ConfigResolver

	nodes   map[TaskKey]*ScheduledTask
	ordered []TaskKey
	onPath  map[TaskKey]bool
}

// resolveTargets implements spec.md §4.1's target-workspace resolution
// for a single requested task.
func (b *builder) resolveTargets(req taskconfig.RequestedTask) ([]workspace.Workspace, error) {
	if b.proj.IsTopLevelScript(req.Script) {
		return []workspace.Workspace{b.proj.TopLevel}, nil
	}

	all := b.proj.Workspaces
	var candidates []workspace.Workspace
	if len(req.FilterPaths) == 0 {
		candidates = all
	} else {
		for _, ws := range all {
			for _, pattern := range req.FilterPaths {
				if matchesFilter(b.proj.RootDir, ws.Dir, pattern) {
					candidates = append(candidates, ws)
					break
				}
			}
		}
	}

	var targets []workspace.Workspace
	for _, ws := range candidates {
		if ws.HasScript(req.Script) {
			targets = append(targets, ws)
		}
	}
	return targets, nil
}

// matchesFilter implements spec.md §4.1's filter-path matching:
// absolute patterns match directly, relative patterns are joined to
// the project root; a pattern with no glob metacharacters also matches
// any workspace nested under it (a directory-subtree selector).
func matchesFilter(rootDir, workspaceDir, pattern string) bool {
	resolved := pattern
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(rootDir, resolved)
	}
	resolved = filepath.Clean(resolved)
	workspaceDir = filepath.Clean(workspaceDir)

	if ok, err := filepath.Match(resolved, workspaceDir); err == nil && ok {
		return true
	}
	if !containsGlobChar(pattern) {
		if workspaceDir == resolved || strings.HasPrefix(workspaceDir, resolved+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func containsGlobChar(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// visit performs the depth-first expansion of one (workspace, script)
// task and returns its TaskKey. path is the current visitation stack,
// used only to render a cycle diagnostic.
func (b *builder) visit(ws workspace.Workspace, script string, extraArgs []string, force bool, path []TaskKey) (TaskKey, error) {
	key := NewTaskKey(script, ws.Dir)

	if b.onPath[key] {
		return "", cycleError(append(append([]TaskKey{}, path...), key))
	}
	if _, exists := b.nodes[key]; exists {
		return key, nil
	}

	cfg, err := b.resolver.Resolve(ws, script)
	if err != nil {
		return "", lazyerrors.Wrapf(err, "resolving config for %s", key)
	}

	node := &ScheduledTask{
		Key:          key,
		Config:       cfg,
		Script:       script,
		WorkspaceDir: ws.Dir,
		ExtraArgs:    extraArgs,
		Force:        force,
		Status:       StatusPending,
	}
	b.nodes[key] = node
	b.onPath[key] = true
	path = append(path, key)
	defer func() {
		delete(b.onPath, key)
	}()

	deps := map[TaskKey]struct{}{}
	var depOrder []TaskKey
	usesOutputOf := map[TaskKey]bool{}
	addDep := func(k TaskKey, usesOutput bool) {
		if _, ok := deps[k]; !ok {
			deps[k] = struct{}{}
			depOrder = append(depOrder, k)
		}
		if usesOutput {
			usesOutputOf[k] = true
		}
	}

	// 1. runsAfter relations.
	for _, ra := range cfg.RunsAfter {
		filterPaths := runsAfterFilterPaths(b.proj, ws, ra.Scope)
		upstreamTargets, err := b.resolveTargets(taskconfig.RequestedTask{
			Script:      ra.UpstreamScript,
			FilterPaths: filterPaths,
			Force:       force,
		})
		if err != nil {
			return "", err
		}
		for _, uws := range upstreamTargets {
			depKey, err := b.visit(uws, ra.UpstreamScript, nil, force, path)
			if err != nil {
				return "", err
			}
			addDep(depKey, ra.UsesOutput)
		}
	}

	// 2. dependent execution mode.
	if cfg.Mode == taskconfig.ModeDependent {
		for _, depName := range ws.DependsOn {
			depWs, ok := b.proj.GetWorkspaceByName(depName)
			if !ok {
				return "", lazyerrors.Wrapf(lazyerrors.ErrUnknownWorkspace, "workspace %q depends on unknown workspace %q", ws.Name, depName)
			}
			if !depWs.HasScript(script) {
				continue
			}
			depKey, err := b.visit(depWs, script, nil, force, path)
			if err != nil {
				return "", err
			}
			addDep(depKey, cfg.Cache.UsesOutputFromDependencies)
		}
	}

	sort.Slice(depOrder, func(i, j int) bool { return depOrder[i] < depOrder[j] })
	node.Dependencies = depOrder
	node.UsesOutputOf = usesOutputOf

	b.ordered = append(b.ordered, key)
	return key, nil
}

// runsAfterFilterPaths computes the filter-path scope for a runsAfter
// relation (spec.md §4.1 step 1).
func runsAfterFilterPaths(proj *workspace.Project, ws workspace.Workspace, scope taskconfig.RunsAfterScope) []string {
	switch scope {
	case taskconfig.ScopeSelfOnly:
		return []string{ws.Dir}
	case taskconfig.ScopeSelfAndDependencies:
		paths := []string{ws.Dir}
		for _, depName := range ws.DependsOn {
			if depWs, ok := proj.GetWorkspaceByName(depName); ok {
				paths = append(paths, depWs.Dir)
			}
		}
		return paths
	default: // ScopeAll or unset
		return nil
	}
}
