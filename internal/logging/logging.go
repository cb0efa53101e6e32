// Package logging is the single construction point for lazyrun's
// zerolog.Logger instances. Every other package receives a logger by
// constructor injection; none of them import zerolog's global logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a component-scoped logger writing to w (os.Stderr if nil).
// component is attached to every event as a "component" field so log
// lines from the graph builder, scheduler, and cache engine can be told
// apart in a single run's output.
func New(component string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NewConsole builds a component-scoped logger with zerolog's human
// readable console writer, used by cmd/lazyrun for interactive runs.
func NewConsole(component string) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(console).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
