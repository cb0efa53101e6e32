package workspace

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"lazyrun/internal/lazyerrors"
)

// manifestFile is the per-workspace descriptor Discover looks for. Its
// shape mirrors the "name, scripts, dependsOn" collaborator contract in
// spec.md §2 item 1 without committing to any particular package
// manager's own workspace format.
const manifestFile = "lazyrun.workspace.yaml"

type manifestDoc struct {
	Name      string            `yaml:"name"`
	Scripts   map[string]string `yaml:"scripts"`
	DependsOn []string          `yaml:"dependsOn"`
}

// Discover walks rootDir looking for manifestFile documents. The
// manifest at rootDir itself (if present) becomes the project's
// top-level workspace; every other manifest found in a subdirectory
// becomes a member workspace. Directories named "node_modules",
// ".git" and ".lazy" are not descended into.
func Discover(rootDir string) (*Project, error) {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, lazyerrors.Wrapf(err, "resolving project root %q", rootDir)
	}

	var top Workspace
	haveTop := false
	var members []Workspace

	err = filepath.WalkDir(absRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case "node_modules", ".git", ".lazy":
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != manifestFile {
			return nil
		}

		dir := filepath.Dir(path)
		w, err := readManifest(dir)
		if err != nil {
			return lazyerrors.Wrapf(err, "reading %s", path)
		}

		if dir == absRoot {
			top = w
			haveTop = true
			return nil
		}
		members = append(members, w)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !haveTop {
		top = Workspace{Dir: absRoot, Name: filepath.Base(absRoot), Scripts: map[string]string{}}
	}

	sort.Slice(members, func(i, j int) bool { return members[i].Dir < members[j].Dir })

	return New(absRoot, top, members), nil
}

func readManifest(dir string) (Workspace, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Workspace{}, err
	}

	var doc manifestDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Workspace{}, lazyerrors.Wrap(err, "parsing workspace manifest")
	}

	name := doc.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	scripts := doc.Scripts
	if scripts == nil {
		scripts = map[string]string{}
	}

	return Workspace{
		Dir:       dir,
		Name:      name,
		Scripts:   scripts,
		DependsOn: doc.DependsOn,
	}, nil
}
