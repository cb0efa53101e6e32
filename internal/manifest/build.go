package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lazyrun/internal/lazyerrors"
	"lazyrun/internal/taskconfig"
)

// UpstreamInput is one dependency's contribution to this task's
// manifest: its TaskKey, its own manifest fingerprint (always
// recorded, spec.md §4.3 item 4), and, when usesOutput is true, the
// dependency's produced output files to fold in as this task's inputs.
type UpstreamInput struct {
	DepKey        string
	DepFingerprint string
	UsesOutput    bool
	OutputFiles   []string // project-root-relative paths, only read when UsesOutput
}

// BuildInput bundles everything needed to compute one task's input
// manifest (spec.md §4.3).
type BuildInput struct {
	ProjectRoot  string
	WorkspaceDir string
	IsTopLevel   bool
	Cache        taskconfig.CacheRules
	Upstreams    []UpstreamInput
	EnvVars      map[string]string // name -> value, from the task's configured environment inputs
	GlobalInputs []string          // lockfile + lazyrun.config.* paths, project-root-relative, when inherit-base-cache
	Previous     []Line            // previous manifest's lines, or nil
}

// Build computes the new set of manifest lines for a task, applying
// the mtime-based re-hash skip against Previous (spec.md §4.3
// "Optimization"). Paths recorded are project-root-relative, using
// forward slashes on every platform.
func Build(in BuildInput) ([]Line, error) {
	var lines []Line

	seen := map[string]struct{}{}
	addFile := func(relPath string) error {
		if _, ok := seen[relPath]; ok {
			return nil
		}
		seen[relPath] = struct{}{}

		abs := filepath.Join(in.ProjectRoot, filepath.FromSlash(relPath))
		info, err := os.Stat(abs)
		if err != nil {
			return lazyerrors.Wrapf(err, "stat input %s", relPath)
		}
		mtimeMillis := info.ModTime().UnixMilli()

		if prev, ok := prevLine(in.Previous, relPath); ok && prev.MtimeMillis == mtimeMillis {
			lines = append(lines, Line{Kind: KindFile, Key: relPath, Value: prev.Value, MtimeMillis: mtimeMillis})
			return nil
		}

		hash, err := hashFile(abs)
		if err != nil {
			return lazyerrors.Wrapf(err, "hashing input %s", relPath)
		}
		lines = append(lines, Line{Kind: KindFile, Key: relPath, Value: hash, MtimeMillis: mtimeMillis})
		return nil
	}

	if in.Cache.InheritBaseCache {
		for _, g := range in.GlobalInputs {
			if err := addFile(g); err != nil {
				return nil, err
			}
		}
	}

	includes := in.Cache.Include
	if len(includes) == 0 && !in.IsTopLevel {
		includes = []string{filepath.Join(in.WorkspaceDir, "**", "*")}
	}

	included, err := expandPatterns(in.ProjectRoot, in.WorkspaceDir, in.IsTopLevel, includes)
	if err != nil {
		return nil, err
	}
	excluded, err := expandPatterns(in.ProjectRoot, in.WorkspaceDir, in.IsTopLevel, in.Cache.Exclude)
	if err != nil {
		return nil, err
	}
	excludeSet := map[string]struct{}{}
	for _, e := range excluded {
		excludeSet[e] = struct{}{}
	}

	for _, rel := range included {
		if _, skip := excludeSet[rel]; skip {
			continue
		}
		if err := addFile(rel); err != nil {
			return nil, err
		}
	}

	for _, up := range in.Upstreams {
		lines = append(lines, Line{Kind: KindUpstream, Key: up.DepKey, Value: up.DepFingerprint})
		if up.UsesOutput {
			for _, out := range up.OutputFiles {
				if err := addFile(out); err != nil {
					return nil, err
				}
			}
		}
	}

	envNames := make([]string, 0, len(in.EnvVars))
	for name := range in.EnvVars {
		envNames = append(envNames, name)
	}
	sort.Strings(envNames)
	for _, name := range envNames {
		lines = append(lines, Line{Kind: KindEnv, Key: name, Value: hashEnvValue(in.EnvVars[name])})
	}

	return lines, nil
}

// knownLockfiles is the set of package-manager lockfiles spec.md
// §4.3 item 1 treats as global inputs when present at the project
// root, independent of which package manager the project actually
// uses.
var knownLockfiles = []string{
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"go.sum",
	"Cargo.lock",
}

// DiscoverGlobalInputs finds the baseline global inputs at the
// project root: whichever known lockfile is present, plus any file
// matching lazyrun.config.* (spec.md §4.3 item 1). Paths are returned
// project-root-relative with forward slashes.
func DiscoverGlobalInputs(projectRoot string) ([]string, error) {
	var found []string
	for _, name := range knownLockfiles {
		if _, err := os.Stat(filepath.Join(projectRoot, name)); err == nil {
			found = append(found, name)
		}
	}

	matches, err := filepath.Glob(filepath.Join(projectRoot, "lazyrun.config.*"))
	if err != nil {
		return nil, lazyerrors.Wrap(err, "globbing lazyrun.config.*")
	}
	for _, m := range matches {
		rel, err := filepath.Rel(projectRoot, m)
		if err != nil {
			return nil, lazyerrors.Wrapf(err, "relativizing %s", m)
		}
		found = append(found, filepath.ToSlash(rel))
	}

	sort.Strings(found)
	return found, nil
}

func prevLine(prev []Line, relPath string) (Line, bool) {
	for _, l := range prev {
		if l.Kind == KindFile && l.Key == relPath {
			return l, true
		}
	}
	return Line{}, false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashEnvValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// expandPatterns resolves include/exclude patterns per spec.md §4.3
// item 2/3: absolute patterns match directly, relative patterns are
// rooted at the workspace directory for non-top-level tasks or the
// project root for top-level tasks. Matched directories are walked
// recursively, skipping any ".lazy" state directory. Results are
// project-root-relative with forward slashes, sorted and deduplicated.
func expandPatterns(projectRoot, workspaceDir string, isTopLevel bool, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	base := workspaceDir
	if isTopLevel {
		base = projectRoot
	}

	set := map[string]struct{}{}
	for _, pattern := range patterns {
		full := stripDoubleStar(pattern)
		if !filepath.IsAbs(full) {
			full = filepath.Join(base, full)
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, lazyerrors.Wrapf(err, "invalid pattern %q", pattern)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			if info.IsDir() {
				werr := filepath.WalkDir(m, func(p string, d os.DirEntry, err error) error {
					if err != nil {
						return err
					}
					if d.IsDir() {
						if d.Name() == ".lazy" {
							return filepath.SkipDir
						}
						return nil
					}
					rel, err := filepath.Rel(projectRoot, p)
					if err != nil {
						return err
					}
					set[filepath.ToSlash(rel)] = struct{}{}
					return nil
				})
				if werr != nil {
					return nil, lazyerrors.Wrapf(werr, "walking %q", m)
				}
				continue
			}
			rel, err := filepath.Rel(projectRoot, m)
			if err != nil {
				return nil, err
			}
			set[filepath.ToSlash(rel)] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// stripDoubleStar drops a trailing "**/*" or "**" glob for use with
// filepath.Glob, which does not support recursive globs; the resulting
// directory pattern is walked recursively instead.
func stripDoubleStar(pattern string) string {
	if pattern == "**/*" || pattern == "**" {
		return ""
	}
	pattern = strings.TrimSuffix(pattern, "/**/*")
	pattern = strings.TrimSuffix(pattern, "/**")
	return pattern
}
