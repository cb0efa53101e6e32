package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"lazyrun/internal/runlog"
)

// addHistoryCommand registers "lazyrun history": it reads the local
// run-history database and prints recent invocations (SPEC_FULL.md §10).
func addHistoryCommand(parent *cobra.Command) {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent lazyrun invocations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd.Context(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of runs to show")
	parent.AddCommand(cmd)
}

func runHistory(ctx context.Context, limit int) error {
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	dbPath := filepath.Join(root, ".lazy", "history.db")
	if _, statErr := os.Stat(dbPath); os.IsNotExist(statErr) {
		fmt.Fprintln(os.Stdout, "no run history yet")
		return nil
	}

	store, err := runlog.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer store.Close()

	runs, err := store.RecentRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("reading run history: %w", err)
	}

	for _, r := range runs {
		fmt.Fprintf(os.Stdout, "%s  %s  scripts=%v  eager=%d lazy=%d failed=%d exit=%d  (%s ago)\n",
			r.RunID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Scripts,
			r.Eager, r.Lazy, r.Failed, r.ExitCode,
			humanize.Time(r.EndedAt))
	}
	return nil
}
