// Package graph builds the task dependency graph described in
// spec.md §4.1: it expands a set of requested (script, filter) pairs
// into concrete (workspace, script) task nodes with dependency edges,
// rejecting cycles.
package graph

import (
	"fmt"
	"path/filepath"

	"lazyrun/internal/taskconfig"
)

// TaskKey is the canonical identifier "{scriptName}::{workspaceDir}"
// used both as the node map key and the sort key (spec.md §3).
type TaskKey string

// NewTaskKey renders the canonical key for a (script, workspace
// directory) pair.
func NewTaskKey(script, workspaceDir string) TaskKey {
	return TaskKey(fmt.Sprintf("%s::%s", script, filepath.Clean(workspaceDir)))
}

// Status is the closed set of a ScheduledTask's runtime states
// (spec.md §3). PENDING is the only non-terminal, non-running state;
// RUNNING is transient; the rest are terminal.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusSuccessEager Status = "success:eager"
	StatusSuccessLazy  Status = "success:lazy"
	StatusFailure      Status = "failure"
)

// IsTerminal reports whether s is one of the run's terminal statuses.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccessEager, StatusSuccessLazy, StatusFailure:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether s satisfies a dependent's readiness check.
func (s Status) IsSuccess() bool {
	return s == StatusSuccessEager || s == StatusSuccessLazy
}

// ScheduledTask is one concrete node of the task graph (spec.md §3).
// Its status and cache-derived fields are mutated only by the
// scheduler and the manifest engine respectively; every other field is
// fixed once the node is created.
type ScheduledTask struct {
	Key          TaskKey
	Config       taskconfig.TaskConfig
	Script       string
	WorkspaceDir string
	ExtraArgs    []string
	Force        bool
	Status       Status
	Dependencies []TaskKey
	// UsesOutputOf records, per dependency, whether that dependency's
	// output files fold into this task's input manifest (spec.md §4.3
	// item 4). Absent entries default to false.
	UsesOutputOf map[TaskKey]bool
	OutputFiles  []string
	Fingerprint  string // populated lazily by the manifest engine
}

// Graph is the immutable result of a successful build: a node map plus
// the sorted key list, which is a valid topological order of the
// dependency relation (spec.md §3 invariants).
type Graph struct {
	Nodes   map[TaskKey]*ScheduledTask
	Ordered []TaskKey
}
