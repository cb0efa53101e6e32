package outputcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func nopLogger() zerolog.Logger { return zerolog.Nop() }

func TestResolvePathsRejectsEscapingRoot(t *testing.T) {
	root := t.TempDir()
	_, err := ResolvePaths(root, filepath.Join(root, "core"), false, []string{"../../etc/passwd"})
	require.Error(t, err)
}

func TestResolvePathsExpandsDirectory(t *testing.T) {
	root := t.TempDir()
	wsDir := filepath.Join(root, "core")
	require.NoError(t, os.MkdirAll(filepath.Join(wsDir, "dist"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wsDir, "dist", "out.js"), []byte("x"), 0o644))

	paths, err := ResolvePaths(root, wsDir, false, []string{filepath.Join(wsDir, "dist")})
	require.NoError(t, err)
	require.Equal(t, []string{"core/dist/out.js"}, paths)
}

func TestCaptureThenRestoreRoundtripsMtime(t *testing.T) {
	root := t.TempDir()
	cacheDir := filepath.Join(root, ".lazy", "cache")
	manifestPath := filepath.Join(root, ".lazy", "output-manifest.tsv")

	out := filepath.Join(root, "core", "dist", "out.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o755))
	require.NoError(t, os.WriteFile(out, []byte("built"), 0o644))
	past := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	require.NoError(t, os.Chtimes(out, past, past))

	lines, err := Capture(nopLogger(), root, cacheDir, manifestPath, []string{"core/dist/out.js"})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, past.UnixMilli(), lines[0].MtimeMillis)

	// Simulate the workspace file being deleted before a lazy re-run.
	require.NoError(t, os.Remove(out))

	_, err = Restore(nopLogger(), root, cacheDir, manifestPath, nil)
	require.NoError(t, err)

	info, statErr := os.Stat(out)
	require.NoError(t, statErr)
	require.Equal(t, past.UnixMilli(), info.ModTime().UnixMilli())
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "built", string(content))
}

func TestRestoreSweepsStaleOutputs(t *testing.T) {
	root := t.TempDir()
	cacheDir := filepath.Join(root, ".lazy", "cache")
	manifestPath := filepath.Join(root, ".lazy", "output-manifest.tsv")

	kept := filepath.Join(root, "core", "dist", "keep.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(kept), 0o755))
	require.NoError(t, os.WriteFile(kept, []byte("keep"), 0o644))

	_, err := Capture(nopLogger(), root, cacheDir, manifestPath, []string{"core/dist/keep.js"})
	require.NoError(t, err)

	stale := filepath.Join(root, "core", "dist", "stale.js")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	_, err = Restore(nopLogger(), root, cacheDir, manifestPath, []string{"core/dist/keep.js", "core/dist/stale.js"})
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(kept)
	require.NoError(t, statErr)
}

func TestRestoreLeavesMatchingFileUntouched(t *testing.T) {
	root := t.TempDir()
	cacheDir := filepath.Join(root, ".lazy", "cache")
	manifestPath := filepath.Join(root, ".lazy", "output-manifest.tsv")

	out := filepath.Join(root, "core", "dist", "out.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o755))
	require.NoError(t, os.WriteFile(out, []byte("built"), 0o644))

	_, err := Capture(nopLogger(), root, cacheDir, manifestPath, []string{"core/dist/out.js"})
	require.NoError(t, err)

	info1, err := os.Stat(out)
	require.NoError(t, err)

	_, err = Restore(nopLogger(), root, cacheDir, manifestPath, []string{"core/dist/out.js"})
	require.NoError(t, err)

	info2, err := os.Stat(out)
	require.NoError(t, err)
	require.Equal(t, info1.ModTime(), info2.ModTime())
}
