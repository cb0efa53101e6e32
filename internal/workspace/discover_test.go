package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), []byte(content), 0o644))
}

func TestDiscoverFindsTopLevelAndMembers(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "name: root\nscripts:\n  lint: echo lint\n")
	writeManifest(t, filepath.Join(root, "packages", "core"), "name: core\nscripts:\n  build: echo build\ndependsOn: []\n")
	writeManifest(t, filepath.Join(root, "packages", "utils"), "name: utils\nscripts:\n  build: echo build\n")

	p, err := Discover(root)
	require.NoError(t, err)

	require.Equal(t, "root", p.TopLevel.Name)
	require.True(t, p.IsTopLevelScript("lint"))
	require.False(t, p.IsTopLevelScript("build"))
	require.Len(t, p.Workspaces, 2)

	core, ok := p.GetWorkspaceByName("core")
	require.True(t, ok)
	require.True(t, core.HasScript("build"))
}

func TestDiscoverSkipsNodeModules(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "name: root\nscripts: {}\n")
	writeManifest(t, filepath.Join(root, "node_modules", "dep"), "name: dep\nscripts:\n  build: echo dep\n")

	p, err := Discover(root)
	require.NoError(t, err)
	require.Empty(t, p.Workspaces)
}

func TestDiscoverWithoutTopLevelManifest(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "packages", "core"), "name: core\nscripts:\n  build: echo build\n")

	p, err := Discover(root)
	require.NoError(t, err)
	require.Equal(t, filepath.Base(root), p.TopLevel.Name)
	require.Len(t, p.Workspaces, 1)
}
