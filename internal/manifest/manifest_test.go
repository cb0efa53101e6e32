package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lazyrun/internal/taskconfig"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuildIsDeterministicAcrossLineOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "core", "a.txt"), "aaa")
	writeFile(t, filepath.Join(root, "core", "b.txt"), "bbb")

	in := BuildInput{
		ProjectRoot:  root,
		WorkspaceDir: filepath.Join(root, "core"),
		Cache:        taskconfig.CacheRules{Include: []string{filepath.Join(root, "core", "*.txt")}},
	}

	lines1, err := Build(in)
	require.NoError(t, err)
	lines2, err := Build(in)
	require.NoError(t, err)

	require.Equal(t, Fingerprint(lines1), Fingerprint(lines2))
}

func TestBuildExcludesSubtractIncludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "core", "keep.txt"), "keep")
	writeFile(t, filepath.Join(root, "core", "out.txt"), "generated")

	in := BuildInput{
		ProjectRoot:  root,
		WorkspaceDir: filepath.Join(root, "core"),
		Cache: taskconfig.CacheRules{
			Include: []string{filepath.Join(root, "core", "*.txt")},
			Exclude: []string{filepath.Join(root, "core", "out.txt")},
		},
	}

	lines, err := Build(in)
	require.NoError(t, err)

	byPath := FileLinesByPath(lines)
	require.Contains(t, byPath, "core/keep.txt")
	require.NotContains(t, byPath, "core/out.txt")
}

func TestBuildSkipsRehashWhenMtimeUnchanged(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "core", "a.txt")
	writeFile(t, path, "aaa")

	in := BuildInput{
		ProjectRoot:  root,
		WorkspaceDir: filepath.Join(root, "core"),
		Cache:        taskconfig.CacheRules{Include: []string{path}},
	}

	first, err := Build(in)
	require.NoError(t, err)

	// Mutate content but do not change mtime: the skip optimization
	// should keep the stale hash from the previous manifest.
	info, statErr := os.Stat(path)
	require.NoError(t, statErr)
	require.NoError(t, os.WriteFile(path, []byte("zzz-different-length"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	in.Previous = first
	second, err := Build(in)
	require.NoError(t, err)

	require.Equal(t, Fingerprint(first), Fingerprint(second))
}

func TestBuildRehashesOnMtimeChange(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "core", "a.txt")
	writeFile(t, path, "aaa")

	in := BuildInput{
		ProjectRoot:  root,
		WorkspaceDir: filepath.Join(root, "core"),
		Cache:        taskconfig.CacheRules{Include: []string{path}},
	}
	first, err := Build(in)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	in.Previous = first
	second, err := Build(in)
	require.NoError(t, err)

	require.NotEqual(t, Fingerprint(first), Fingerprint(second))
}

func TestUpstreamLineAlwaysRecordsFingerprint(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "core", "a.txt"), "aaa")

	in := BuildInput{
		ProjectRoot:  root,
		WorkspaceDir: filepath.Join(root, "core"),
		Cache:        taskconfig.CacheRules{Include: []string{filepath.Join(root, "core", "a.txt")}},
		Upstreams: []UpstreamInput{
			{DepKey: "build::/repo/utils", DepFingerprint: "deadbeef", UsesOutput: false},
		},
	}

	lines, err := Build(in)
	require.NoError(t, err)

	var found bool
	for _, l := range lines {
		if l.Kind == KindUpstream && l.Key == "build::/repo/utils" {
			found = true
			require.Equal(t, "deadbeef", l.Value)
		}
	}
	require.True(t, found)
}

func TestSerializeSortOrder(t *testing.T) {
	lines := []Line{
		{Kind: KindEnv, Key: "ZZZ", Value: "1"},
		{Kind: KindFile, Key: "b.txt", Value: "h2", MtimeMillis: 2},
		{Kind: KindUpstream, Key: "x", Value: "y"},
		{Kind: KindFile, Key: "a.txt", Value: "h1", MtimeMillis: 1},
	}
	out := string(Serialize(lines))
	require.Equal(t, "upstream\tx\ty\nfile\ta.txt\th1\t1\nfile\tb.txt\th2\t2\nenv\tZZZ\t1\n", out)
}

func TestPersistAndLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.tsv")
	lines := []Line{
		{Kind: KindFile, Key: "a.txt", Value: "hash", MtimeMillis: 42},
	}
	require.NoError(t, Persist(path, lines))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "a.txt", loaded[0].Key)
	require.Equal(t, int64(42), loaded[0].MtimeMillis)
}

func TestLoadMissingFileReturnsNil(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "missing.tsv"))
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestDiscoverGlobalInputsFindsKnownLockfileAndConfig(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.sum"), "checksum data")
	writeFile(t, filepath.Join(root, "lazyrun.config.yaml"), "root: true")
	writeFile(t, filepath.Join(root, "unrelated.txt"), "noise")

	found, err := DiscoverGlobalInputs(root)
	require.NoError(t, err)
	require.Equal(t, []string{"go.sum", "lazyrun.config.yaml"}, found)
}

func TestDiscoverGlobalInputsEmptyWhenNothingPresent(t *testing.T) {
	root := t.TempDir()

	found, err := DiscoverGlobalInputs(root)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestBuildIncludesGlobalInputsWhenInheritBaseCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.sum"), "checksum data")
	writeFile(t, filepath.Join(root, "core", "a.txt"), "aaa")

	globals, err := DiscoverGlobalInputs(root)
	require.NoError(t, err)

	in := BuildInput{
		ProjectRoot:  root,
		WorkspaceDir: filepath.Join(root, "core"),
		Cache: taskconfig.CacheRules{
			Include:          []string{filepath.Join(root, "core", "*.txt")},
			InheritBaseCache: true,
		},
		GlobalInputs: globals,
	}

	lines, err := Build(in)
	require.NoError(t, err)

	byPath := FileLinesByPath(lines)
	require.Contains(t, byPath, "go.sum")
}
