// Package runlog stores an observational history of lazyrun
// invocations (SPEC_FULL.md §10) in a local SQLite database. It is
// never consulted by the core pipeline: a write failure here is logged
// and otherwise ignored.
package runlog

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"lazyrun/internal/lazyerrors"
)

// RunRecord is one row: a summary of a completed invocation.
type RunRecord struct {
	RunID     string
	StartedAt time.Time
	EndedAt   time.Time
	Scripts   []string
	Eager     int
	Lazy      int
	Failed    int
	ExitCode  int
}

// Store is a SQLite-backed history of RunRecords.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	ended_at   TEXT NOT NULL,
	scripts    TEXT NOT NULL,
	eager      INTEGER NOT NULL,
	lazy       INTEGER NOT NULL,
	failed     INTEGER NOT NULL,
	exit_code  INTEGER NOT NULL
);`

// timeLayout stores timestamps with a fixed-width fraction so that the
// text ordering of started_at matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, lazyerrors.Wrapf(err, "opening run history %s", path)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, lazyerrors.Wrap(err, "enabling WAL mode")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, lazyerrors.Wrap(err, "creating run history schema")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists one invocation. Callers should treat a returned
// error as non-fatal: history is strictly observational.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, started_at, ended_at, scripts, eager, lazy, failed, exit_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.StartedAt.UTC().Format(timeLayout),
		rec.EndedAt.UTC().Format(timeLayout),
		joinScripts(rec.Scripts),
		rec.Eager, rec.Lazy, rec.Failed, rec.ExitCode,
	)
	if err != nil {
		return lazyerrors.Wrap(err, "recording run")
	}
	return nil
}

// RecentRuns returns up to limit RunRecords, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started_at, ended_at, scripts, eager, lazy, failed, exit_code
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, lazyerrors.Wrap(err, "querying recent runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, ended, scripts string
		if err := rows.Scan(&rec.RunID, &started, &ended, &scripts, &rec.Eager, &rec.Lazy, &rec.Failed, &rec.ExitCode); err != nil {
			return nil, lazyerrors.Wrap(err, "scanning run row")
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		rec.Scripts = splitScripts(scripts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, lazyerrors.Wrap(err, "iterating run rows")
	}
	return out, nil
}

func joinScripts(scripts []string) string {
	out := ""
	for i, s := range scripts {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func splitScripts(joined string) []string {
	if joined == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(joined); i++ {
		if i == len(joined) || joined[i] == ',' {
			out = append(out, joined[start:i])
			start = i + 1
		}
	}
	return out
}
