package graph

import (
	"fmt"
	"strings"

	"lazyrun/internal/lazyerrors"
)

// CycleError reports a dependency cycle found during graph construction,
// naming the offending path (spec.md §4.1 "Errors").
type CycleError struct {
	Path []TaskKey
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Path))
	for i, k := range e.Path {
		names[i] = string(k)
	}
	return fmt.Sprintf("cycle detected: %s", strings.Join(names, " -> "))
}

func (e *CycleError) Unwrap() error { return lazyerrors.ErrCycleDetected }

func cycleError(path []TaskKey) error {
	return &CycleError{Path: path}
}
