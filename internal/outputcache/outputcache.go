// Package outputcache implements the Output Cache Engine (spec.md
// §4.4): capturing a task's produced outputs into a content-addressed
// cache directory, and restoring them on a subsequent cache hit,
// including stale-output cleanup.
package outputcache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"lazyrun/internal/lazyerrors"
)

// ResolvePaths expands a task's output patterns into a sorted,
// project-root-relative file list (spec.md §4.4 step 1). Any pattern
// that resolves outside projectRoot is rejected.
func ResolvePaths(projectRoot, workspaceDir string, isTopLevel bool, patterns []string) ([]string, error) {
	set := map[string]struct{}{}
	for _, pattern := range patterns {
		full := resolvePattern(projectRoot, workspaceDir, isTopLevel, pattern)
		if relPattern, err := filepath.Rel(projectRoot, full); err != nil || relPattern == ".." || strings.HasPrefix(filepath.ToSlash(relPattern), "../") {
			return nil, lazyerrors.Wrapf(lazyerrors.ErrOutputEscapesRoot, "output %q resolves outside project root", pattern)
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, lazyerrors.Wrapf(err, "invalid output pattern %q", pattern)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			var files []string
			if info.IsDir() {
				werr := filepath.WalkDir(m, func(p string, d os.DirEntry, err error) error {
					if err != nil || d.IsDir() {
						return err
					}
					files = append(files, p)
					return nil
				})
				if werr != nil {
					return nil, lazyerrors.Wrapf(werr, "walking output %q", m)
				}
			} else {
				files = []string{m}
			}
			for _, f := range files {
				rel, err := filepath.Rel(projectRoot, f)
				if err != nil {
					return nil, err
				}
				rel = filepath.ToSlash(rel)
				if strings.HasPrefix(rel, "../") || rel == ".." {
					return nil, lazyerrors.Wrapf(lazyerrors.ErrOutputEscapesRoot, "output %q resolves outside project root", pattern)
				}
				set[rel] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func resolvePattern(projectRoot, workspaceDir string, isTopLevel bool, pattern string) string {
	if filepath.IsAbs(pattern) {
		return pattern
	}
	if rest, ok := strings.CutPrefix(pattern, "<rootDir>/"); ok {
		return filepath.Join(projectRoot, rest)
	}
	base := workspaceDir
	if isTopLevel {
		base = projectRoot
	}
	return filepath.Join(base, pattern)
}

// OutputLine is one entry of an OutputManifest (spec.md §3).
type OutputLine struct {
	RelPath     string
	MtimeMillis int64
}

// Capture mirrors the resolved output files into cacheDir, preserving
// modification time, and returns the sorted output manifest lines
// (spec.md §4.4 "Capture"). Any previously cached output directory and
// manifest for this task are removed first.
func Capture(log zerolog.Logger, projectRoot, cacheDir, outputManifestPath string, relPaths []string) ([]OutputLine, error) {
	_ = os.RemoveAll(cacheDir)
	_ = os.Remove(outputManifestPath)

	lines := make([]OutputLine, 0, len(relPaths))
	var totalBytes uint64

	for _, rel := range relPaths {
		src := filepath.Join(projectRoot, filepath.FromSlash(rel))
		info, err := os.Stat(src)
		if err != nil {
			return nil, lazyerrors.Wrapf(err, "stat output %s", rel)
		}

		dst := filepath.Join(cacheDir, filepath.FromSlash(rel))
		if err := copyPreservingMtime(src, dst, info); err != nil {
			return nil, lazyerrors.Wrapf(err, "capturing output %s", rel)
		}

		mtimeMillis := info.ModTime().UnixMilli()
		lines = append(lines, OutputLine{RelPath: rel, MtimeMillis: mtimeMillis})
		totalBytes += uint64(info.Size())
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].RelPath < lines[j].RelPath })

	if err := persistOutputManifest(outputManifestPath, lines); err != nil {
		return nil, err
	}

	log.Debug().Int("files", len(lines)).Str("size", humanize.Bytes(totalBytes)).Msg("captured task outputs")
	return lines, nil
}

// Restore reinstates a task's cached outputs (spec.md §4.4 "Restore"):
// stray files not present in the stored manifest are deleted (stale
// output sweep), missing files are copied from cache, and files with a
// mismatched mtime are overwritten from cache.
func Restore(log zerolog.Logger, projectRoot, cacheDir, outputManifestPath string, currentRelPaths []string) ([]OutputLine, error) {
	stored, err := loadOutputManifest(outputManifestPath)
	if err != nil {
		return nil, lazyerrors.Wrapf(lazyerrors.ErrCacheRestoreFailed, "loading output manifest: %v", err)
	}

	storedSet := make(map[string]OutputLine, len(stored))
	for _, l := range stored {
		storedSet[l.RelPath] = l
	}

	for _, rel := range currentRelPaths {
		if _, ok := storedSet[rel]; ok {
			continue
		}
		abs := filepath.Join(projectRoot, filepath.FromSlash(rel))
		log.Warn().Str("path", rel).Msg("removing stale output not present in cached manifest")
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return nil, lazyerrors.Wrapf(err, "removing stale output %s", rel)
		}
	}

	for _, l := range stored {
		abs := filepath.Join(projectRoot, filepath.FromSlash(l.RelPath))
		src := filepath.Join(cacheDir, filepath.FromSlash(l.RelPath))

		info, statErr := os.Stat(abs)
		switch {
		case os.IsNotExist(statErr):
			if err := copyFromCache(src, abs, l.MtimeMillis); err != nil {
				return nil, lazyerrors.Wrapf(err, "restoring output %s", l.RelPath)
			}
		case statErr != nil:
			return nil, lazyerrors.Wrapf(statErr, "stat output %s", l.RelPath)
		case info.ModTime().UnixMilli() != l.MtimeMillis:
			if err := copyFromCache(src, abs, l.MtimeMillis); err != nil {
				return nil, lazyerrors.Wrapf(err, "restoring output %s", l.RelPath)
			}
		}
	}

	return stored, nil
}

func timeFromMillis(millis int64) time.Time {
	return time.UnixMilli(millis)
}

func copyFromCache(src, dst string, mtimeMillis int64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	mtime := timeFromMillis(mtimeMillis)
	if err := os.Chtimes(tmpName, mtime, mtime); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

func copyPreservingMtime(src, dst string, info os.FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func persistOutputManifest(path string, lines []OutputLine) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(fmt.Sprintf("%s\t%d\n", l.RelPath, l.MtimeMillis))
	}
	if _, err := tmp.WriteString(sb.String()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func loadOutputManifest(path string) ([]OutputLine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var lines []OutputLine
	for _, raw := range strings.Split(string(data), "\n") {
		if raw == "" {
			continue
		}
		fields := strings.Split(raw, "\t")
		if len(fields) != 2 {
			continue
		}
		mtime, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		lines = append(lines, OutputLine{RelPath: fields[0], MtimeMillis: mtime})
	}
	return lines, nil
}
