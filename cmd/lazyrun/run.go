package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lazyrun/internal/logging"
	"lazyrun/internal/orchestrator"
	"lazyrun/internal/runlog"
	"lazyrun/internal/runner"
	"lazyrun/internal/scheduler"
	"lazyrun/internal/taskconfig"
	"lazyrun/internal/workspace"
)

// addRunCommand registers "lazyrun run <script...>".
func addRunCommand(parent *cobra.Command) {
	var filterPaths []string
	var force bool
	var maxConcurrent int

	cmd := &cobra.Command{
		Use:   "run <script> [script...]",
		Short: "Run one or more scripts across the discovered workspaces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scripts := args
			var extraArgs []string
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				scripts = args[:dash]
				extraArgs = args[dash:]
			}
			return runRun(cmd.Context(), scripts, extraArgs, filterPaths, force, maxConcurrent)
		},
	}
	cmd.Flags().StringArrayVar(&filterPaths, "filter", nil, "restrict execution to workspaces matching this path or glob")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the cache and always run the command")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "maximum number of tasks to run at once (0 = automatic)")
	parent.AddCommand(cmd)
}

func runRun(ctx context.Context, scripts, extraArgs, filterPaths []string, force bool, maxConcurrent int) error {
	log := logging.NewConsole("cli")

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	proj, err := workspace.Discover(root)
	if err != nil {
		return fmt.Errorf("discovering workspaces: %w", err)
	}

	resolver, err := taskconfig.NewYAMLResolver(root)
	if err != nil {
		return fmt.Errorf("loading lazyrun.yaml: %w", err)
	}

	requests := make([]taskconfig.RequestedTask, 0, len(scripts))
	for _, script := range scripts {
		requests = append(requests, taskconfig.RequestedTask{
			Script:      script,
			ExtraArgs:   extraArgs,
			Force:       force,
			FilterPaths: filterPaths,
		})
	}

	if maxConcurrent <= 0 {
		maxConcurrent = scheduler.DefaultMaxConcurrent()
	}

	opts := orchestrator.Options{
		ProjectRoot:   root,
		Project:       proj,
		Resolver:      resolver,
		Runner:        runner.NewExecRunner(""),
		MaxConcurrent: maxConcurrent,
		Log:           log,
		Sink:          os.Stdout,
	}

	started := time.Now()
	summary, g, err := orchestrator.Run(ctx, opts, requests)
	if err != nil {
		return fmt.Errorf("running tasks: %w", err)
	}
	ended := time.Now()

	for _, key := range g.Ordered {
		node := g.Nodes[key]
		fmt.Fprintf(os.Stdout, "%s\t%s\n", key, orchestrator.ColorizeStatus(node.Status))
	}
	fmt.Fprintln(os.Stdout, summary.Line())
	if summary.Failed > 0 {
		fmt.Fprintf(os.Stdout, "failed: %v\n", summary.FailedIDs)
	}

	recordHistory(ctx, log, root, summary, scripts, started, ended)

	if summary.ExitCode != 0 {
		os.Exit(summary.ExitCode)
	}
	return nil
}

// recordHistory persists the run to the local history database
// (SPEC_FULL.md §10). Failures are logged and never affect the CLI's
// exit code.
func recordHistory(ctx context.Context, log zerolog.Logger, root string, summary *orchestrator.Summary, scripts []string, started, ended time.Time) {
	dbPath := filepath.Join(root, ".lazy", "history.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Warn().Err(err).Msg("creating run history directory")
		return
	}

	store, err := runlog.Open(dbPath)
	if err != nil {
		log.Warn().Err(err).Msg("opening run history")
		return
	}
	defer store.Close()

	rec := runlog.RunRecord{
		RunID:     summary.RunID,
		StartedAt: started,
		EndedAt:   ended,
		Scripts:   scripts,
		Eager:     summary.Eager,
		Lazy:      summary.Lazy,
		Failed:    summary.Failed,
		ExitCode:  summary.ExitCode,
	}
	if err := store.RecordRun(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("recording run history")
	}
}
