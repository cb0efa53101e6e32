// Package lazyerrors defines the sentinel errors shared across lazyrun's
// packages and small helpers for attaching context to them.
//
// This package MUST NOT import any other internal package, only the
// standard library, so that every other package can depend on it without
// risking an import cycle.
package lazyerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrCycleDetected is returned by the graph builder when a requested
	// task set contains a dependency cycle.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrUnknownScript is returned by the graph builder when a requested
	// script is declared by none of the workspaces the request targets.
	// A runsAfter script that no workspace in scope declares is not an
	// error; it adds no dependency.
	ErrUnknownScript = errors.New("unknown script")

	// ErrUnknownWorkspace is returned when a workspace directory or name
	// does not resolve to a known workspace.
	ErrUnknownWorkspace = errors.New("unknown workspace")

	// ErrOutputEscapesRoot is returned when a resolved output pattern
	// points outside the project root.
	ErrOutputEscapesRoot = errors.New("output path escapes project root")

	// ErrCacheRestoreFailed is returned internally when restoring cached
	// outputs fails; callers are expected to treat it as a cache miss
	// rather than propagate it.
	ErrCacheRestoreFailed = errors.New("cache restore failed")

	// ErrCommandFailed is returned by the runner when it is given an
	// empty command. A non-zero exit code is reported through the
	// runner's Result, not as an error.
	ErrCommandFailed = errors.New("command failed")

	// ErrInvalidConfig is returned when a loaded configuration document
	// fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrap attaches a message to err, preserving err in the chain so that
// errors.Is and errors.As continue to work. Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with fmt.Sprintf-style formatting of the message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, err)
}
