// Package manifest implements the Input Manifest engine (spec.md §4.3):
// deterministic enumeration and hashing of a task's inputs, including
// transitive upstream effects, serialized as sorted TSV lines whose
// sha256 is the task's cache fingerprint.
package manifest

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"lazyrun/internal/lazyerrors"
)

// LineKind is the closed set of manifest line kinds (spec.md §3).
type LineKind int

const (
	KindUpstream LineKind = iota
	KindFile
	KindEnv
)

// Line is a single typed entry of an InputManifest.
type Line struct {
	Kind LineKind
	// Upstream lines: Key=dep TaskKey, Value=dep fingerprint.
	// File lines: Key=relPath, Value=sha256, MtimeMillis set.
	// Env lines: Key=name, Value=hash-or-literal.
	Key         string
	Value       string
	MtimeMillis int64
}

func (l Line) serialize() string {
	switch l.Kind {
	case KindUpstream:
		return fmt.Sprintf("upstream\t%s\t%s\n", l.Key, l.Value)
	case KindFile:
		return fmt.Sprintf("file\t%s\t%s\t%d\n", l.Key, l.Value, l.MtimeMillis)
	default:
		return fmt.Sprintf("env\t%s\t%s\n", l.Key, l.Value)
	}
}

// Manifest is an ordered, already-sorted sequence of Lines plus its
// derived fingerprint.
type Manifest struct {
	Lines       []Line
	Fingerprint string
}

// Serialize renders the manifest as sorted TSV bytes: upstream lines
// first in dependency-key order, then file lines path-sorted, then env
// lines name-sorted (spec.md §3, §4.3).
func Serialize(lines []Line) []byte {
	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Key < b.Key
	})

	var sb strings.Builder
	for _, l := range sorted {
		sb.WriteString(l.serialize())
	}
	return []byte(sb.String())
}

// Fingerprint is the sha256 of the serialized manifest bytes.
func Fingerprint(lines []Line) string {
	sum := sha256.Sum256(Serialize(lines))
	return hex.EncodeToString(sum[:])
}

// New sorts lines and computes the resulting Manifest.
func New(lines []Line) Manifest {
	serialized := Serialize(lines)
	sum := sha256.Sum256(serialized)
	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Key < b.Key
	})
	return Manifest{Lines: sorted, Fingerprint: hex.EncodeToString(sum[:])}
}

// Persist atomically writes the manifest's serialized bytes to path
// (temp file in the same directory, then rename), matching the
// write-then-rename idiom used throughout lazyrun's on-disk state.
func Persist(path string, lines []Line) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return lazyerrors.Wrapf(err, "creating manifest directory for %s", path)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return lazyerrors.Wrapf(err, "creating temp manifest for %s", path)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(Serialize(lines)); err != nil {
		_ = tmp.Close()
		return lazyerrors.Wrapf(err, "writing manifest %s", path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return lazyerrors.Wrapf(err, "syncing manifest %s", path)
	}
	if err := tmp.Close(); err != nil {
		return lazyerrors.Wrapf(err, "closing manifest %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return lazyerrors.Wrapf(err, "committing manifest %s", path)
	}
	return nil
}

// Load reads a previously persisted manifest. A missing file is not an
// error: it returns a nil slice, meaning "no previous manifest".
func Load(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, lazyerrors.Wrapf(err, "opening manifest %s", path)
	}
	defer f.Close()

	lines := []Line{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "upstream":
			if len(fields) != 3 {
				continue
			}
			lines = append(lines, Line{Kind: KindUpstream, Key: fields[1], Value: fields[2]})
		case "file":
			if len(fields) != 4 {
				continue
			}
			mtime, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				continue
			}
			lines = append(lines, Line{Kind: KindFile, Key: fields[1], Value: fields[2], MtimeMillis: mtime})
		case "env":
			if len(fields) != 3 {
				continue
			}
			lines = append(lines, Line{Kind: KindEnv, Key: fields[1], Value: fields[2]})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, lazyerrors.Wrapf(err, "reading manifest %s", path)
	}
	return lines, nil
}

// FileLinesByPath indexes the file lines of a manifest by relative
// path, for the mtime-skip optimization.
func FileLinesByPath(lines []Line) map[string]Line {
	out := make(map[string]Line, len(lines))
	for _, l := range lines {
		if l.Kind == KindFile {
			out[l.Key] = l
		}
	}
	return out
}
