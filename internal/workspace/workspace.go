// Package workspace defines the monorepo project model (workspaces and
// their declared scripts) and a reference discovery implementation.
//
// The core packages (graph, scheduler, manifest, outputcache) depend
// only on the collaborator contract in this file — workspacesByDir,
// getWorkspaceByDir/Name, isTopLevelScript — never on Discover itself.
// Discover exists so the repository has a runnable, testable stand-in
// for the package-manager-specific discovery spec.md leaves external.
package workspace

import "path/filepath"

// Workspace is a single package within the monorepo. It is immutable
// after discovery; its identity is its directory.
type Workspace struct {
	Dir       string            // absolute path
	Name      string
	Scripts   map[string]string // script name -> command string
	DependsOn []string          // names of local dependency workspaces
}

// HasScript reports whether the workspace declares the given script.
func (w Workspace) HasScript(script string) bool {
	_, ok := w.Scripts[script]
	return ok
}

// Project is the whole discovered monorepo: a root directory, a
// designated top-level workspace (the project root's own scripts, if
// any), and the full set of member workspaces.
type Project struct {
	RootDir    string
	TopLevel   Workspace
	Workspaces []Workspace

	topLevelScripts map[string]struct{}
	byDir           map[string]Workspace
	byName          map[string]Workspace
}

// New assembles a Project from already-discovered workspaces. Discover
// is the reference way to produce these arguments from disk, but
// callers (and tests) may construct a Project directly.
func New(rootDir string, top Workspace, members []Workspace) *Project {
	p := &Project{
		RootDir:         filepath.Clean(rootDir),
		TopLevel:        top,
		Workspaces:      members,
		topLevelScripts: map[string]struct{}{},
		byDir:           map[string]Workspace{},
		byName:          map[string]Workspace{},
	}
	for name := range top.Scripts {
		p.topLevelScripts[name] = struct{}{}
	}
	p.byDir[filepath.Clean(top.Dir)] = top
	p.byName[top.Name] = top
	for _, w := range members {
		p.byDir[filepath.Clean(w.Dir)] = w
		p.byName[w.Name] = w
	}
	return p
}

// WorkspacesByDir returns the directory -> Workspace mapping over every
// workspace, including the top-level one.
func (p *Project) WorkspacesByDir() map[string]Workspace {
	out := make(map[string]Workspace, len(p.byDir))
	for k, v := range p.byDir {
		out[k] = v
	}
	return out
}

// GetWorkspaceByDir looks up a workspace by its (absolute) directory.
func (p *Project) GetWorkspaceByDir(dir string) (Workspace, bool) {
	w, ok := p.byDir[filepath.Clean(dir)]
	return w, ok
}

// GetWorkspaceByName looks up a workspace by its declared name.
func (p *Project) GetWorkspaceByName(name string) (Workspace, bool) {
	w, ok := p.byName[name]
	return w, ok
}

// IsTopLevelScript reports whether name is declared by the project
// root's own workspace; such a script runs once against the root
// workspace, even if member workspaces also declare it.
func (p *Project) IsTopLevelScript(name string) bool {
	_, ok := p.topLevelScripts[name]
	return ok
}

// GetTaskKey renders the canonical TaskKey string for (dir, script).
// It mirrors internal/graph.TaskKey's format so external collaborators
// that only see this package can still produce comparable keys.
func (p *Project) GetTaskKey(dir, script string) string {
	return script + "::" + filepath.Clean(dir)
}

// AllWorkspaces returns the top-level workspace followed by every
// member workspace. The graph builder does not use it: a request with
// no filter paths enumerates Workspaces, the members only.
func (p *Project) AllWorkspaces() []Workspace {
	out := make([]Workspace, 0, len(p.Workspaces)+1)
	out = append(out, p.TopLevel)
	out = append(out, p.Workspaces...)
	return out
}
