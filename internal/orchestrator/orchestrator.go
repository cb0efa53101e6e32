// Package orchestrator drives one complete lazyrun invocation: it wires
// the task graph, scheduler, input manifest engine, output cache
// engine and external runner together into the per-task Cache Decision
// pipeline (spec.md §4.5), and produces the final run summary
// (spec.md §7/§8).
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lazyrun/internal/graph"
	"lazyrun/internal/lazyerrors"
	"lazyrun/internal/manifest"
	"lazyrun/internal/outputcache"
	"lazyrun/internal/runner"
	"lazyrun/internal/scheduler"
	"lazyrun/internal/taskconfig"
	"lazyrun/internal/workspace"
)

// Options bundles an invocation's collaborators (spec.md §6).
type Options struct {
	ProjectRoot   string
	Project       *workspace.Project
	Resolver      taskconfig.ConfigResolver
	Runner        runner.Runner
	MaxConcurrent int
	Log           zerolog.Logger
	Sink          io.Writer // stdio destination for running commands; defaults to os.Stdout
}

// Summary is the outcome of one invocation, formatted per spec.md §7/§8.
type Summary struct {
	RunID     string
	Total     int
	Eager     int
	Lazy      int
	Failed    int
	FailedIDs []string
	ExitCode  int
}

// Line renders the literal summary strings spec.md §8 requires:
// "N successful, M total, x/y cached" normally, or "x/y MAXIMUM LAZY"
// when every task was a cache hit.
func (s Summary) Line() string {
	successful := s.Eager + s.Lazy
	if s.Failed == 0 && s.Total > 0 && s.Lazy == s.Total {
		return fmt.Sprintf("%d/%d MAXIMUM LAZY", s.Lazy, s.Total)
	}
	return fmt.Sprintf("%d successful, %d total, %d/%d cached", successful, s.Total, s.Lazy, s.Total)
}

// ColorizeStatus renders a task's terminal status for the CLI (green
// for a fresh run, cyan for a cache hit, red for a failure).
func ColorizeStatus(status graph.Status) string {
	switch status {
	case graph.StatusSuccessEager:
		return color.GreenString(string(status))
	case graph.StatusSuccessLazy:
		return color.CyanString(string(status))
	case graph.StatusFailure:
		return color.RedString(string(status))
	default:
		return string(status)
	}
}

// Run builds the task graph for requests and drives it to completion,
// implementing the Cache Decision pipeline (spec.md §4.5) for every
// scheduled task.
func Run(ctx context.Context, opts Options, requests []taskconfig.RequestedTask) (*Summary, *graph.Graph, error) {
	sink := opts.Sink
	if sink == nil {
		sink = os.Stdout
	}

	g, err := graph.Build(opts.Project, opts.Resolver, requests)
	if err != nil {
		return nil, nil, lazyerrors.Wrap(err, "building task graph")
	}

	runID := uuid.NewString()
	log := opts.Log.With().Str("run_id", runID).Logger()

	execute := func(ctx context.Context, task *graph.ScheduledTask) graph.Status {
		return runTask(ctx, opts, log, sink, g, task)
	}

	sched := scheduler.New(g, opts.MaxConcurrent, execute)
	sched.Run(ctx)

	summary := &Summary{RunID: runID, Total: len(g.Nodes)}
	for _, key := range g.Ordered {
		node := g.Nodes[key]
		switch node.Status {
		case graph.StatusSuccessEager:
			summary.Eager++
		case graph.StatusSuccessLazy:
			summary.Lazy++
		case graph.StatusFailure:
			summary.Failed++
			summary.FailedIDs = append(summary.FailedIDs, string(key))
		}
	}
	if summary.Failed > 0 {
		summary.ExitCode = 1
	}

	log.Info().
		Int("total", summary.Total).
		Int("eager", summary.Eager).
		Int("lazy", summary.Lazy).
		Int("failed", summary.Failed).
		Str("summary", summary.Line()).
		Msg("run complete")

	return summary, g, nil
}

// runTask implements spec.md §4.5's per-task pipeline.
func runTask(ctx context.Context, opts Options, log zerolog.Logger, sink io.Writer, g *graph.Graph, task *graph.ScheduledTask) graph.Status {
	taskLog := log.With().Str("task", string(task.Key)).Logger()

	cfg := task.Config
	isTopLevel := opts.Project.IsTopLevelScript(task.Script)

	relPaths, err := outputcache.ResolvePaths(opts.ProjectRoot, task.WorkspaceDir, isTopLevel, cfg.Cache.Output)
	if err != nil {
		taskLog.Error().Err(err).Msg("resolving output paths")
		return graph.StatusFailure
	}

	upstreams := make([]manifest.UpstreamInput, 0, len(task.Dependencies))
	for _, depKey := range task.Dependencies {
		dep := g.Nodes[depKey]
		up := manifest.UpstreamInput{
			DepKey:         string(depKey),
			DepFingerprint: dep.Fingerprint,
			UsesOutput:     task.UsesOutputOf[depKey],
			OutputFiles:    dep.OutputFiles,
		}
		upstreams = append(upstreams, up)
	}

	previous, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		taskLog.Error().Err(err).Msg("loading previous manifest")
		return graph.StatusFailure
	}

	envVars := collectEnvVars(cfg.Cache.EnvNames)

	var globalInputs []string
	if cfg.Cache.InheritBaseCache {
		globalInputs, err = manifest.DiscoverGlobalInputs(opts.ProjectRoot)
		if err != nil {
			taskLog.Error().Err(err).Msg("discovering global inputs")
			return graph.StatusFailure
		}
	}

	lines, err := manifest.Build(manifest.BuildInput{
		ProjectRoot:  opts.ProjectRoot,
		WorkspaceDir: task.WorkspaceDir,
		IsTopLevel:   isTopLevel,
		Cache:        cfg.Cache,
		Upstreams:    upstreams,
		EnvVars:      envVars,
		GlobalInputs: globalInputs,
		Previous:     previous,
	})
	if err != nil {
		taskLog.Error().Err(err).Msg("building input manifest")
		return graph.StatusFailure
	}
	fingerprint := manifest.Fingerprint(lines)
	task.Fingerprint = fingerprint

	previousFingerprint := ""
	if previous != nil {
		previousFingerprint = manifest.Fingerprint(previous)
	}

	mustRun := task.Force || previous == nil || fingerprint != previousFingerprint
	if mustRun {
		return runAndCapture(ctx, opts, taskLog, sink, task, cfg, lines, isTopLevel, envVars)
	}

	restored, err := outputcache.Restore(taskLog, opts.ProjectRoot, cfg.CacheOutputDir, cfg.OutputManifestPath, relPaths)
	if err != nil {
		taskLog.Warn().Err(err).Msg("cache restore failed, falling back to running command")
		return runAndCapture(ctx, opts, taskLog, sink, task, cfg, lines, isTopLevel, envVars)
	}

	if err := manifest.Persist(cfg.ManifestPath, lines); err != nil {
		taskLog.Error().Err(err).Msg("persisting manifest after cache hit")
		return graph.StatusFailure
	}
	task.OutputFiles = outputRelPaths(restored)
	return graph.StatusSuccessLazy
}

func runAndCapture(ctx context.Context, opts Options, log zerolog.Logger, sink io.Writer, task *graph.ScheduledTask, cfg taskconfig.TaskConfig, lines []manifest.Line, isTopLevel bool, envVars map[string]string) graph.Status {
	command := cfg.BaseCommand
	if command == "" {
		ws, ok := opts.Project.GetWorkspaceByDir(task.WorkspaceDir)
		if !ok {
			log.Error().Msg("workspace not found for command lookup")
			return graph.StatusFailure
		}
		command = ws.Scripts[task.Script]
	}

	execRunner := opts.Runner
	if r, ok := execRunner.(*runner.ExecRunner); ok {
		clone := *r
		clone.LogPath = cfg.CapturedLogPath
		execRunner = &clone
	}

	start := time.Now()
	result, err := execRunner.Run(ctx, command, task.WorkspaceDir, task.ExtraArgs, envVars, sink)
	if err != nil {
		log.Error().Err(err).Msg("running task command")
		return graph.StatusFailure
	}
	log.Debug().Dur("duration", time.Since(start)).Int("exit_code", result.ExitCode).Msg("command finished")

	if result.ExitCode != 0 {
		return graph.StatusFailure
	}

	relPaths, err := outputcache.ResolvePaths(opts.ProjectRoot, task.WorkspaceDir, isTopLevel, cfg.Cache.Output)
	if err != nil {
		log.Error().Err(err).Msg("resolving output paths after run")
		return graph.StatusFailure
	}

	captured, err := outputcache.Capture(log, opts.ProjectRoot, cfg.CacheOutputDir, cfg.OutputManifestPath, relPaths)
	if err != nil {
		log.Error().Err(err).Msg("capturing outputs")
		return graph.StatusFailure
	}
	task.OutputFiles = outputRelPaths(captured)

	if err := manifest.Persist(cfg.ManifestPath, lines); err != nil {
		log.Error().Err(err).Msg("persisting manifest after run")
		return graph.StatusFailure
	}

	return graph.StatusSuccessEager
}

func outputRelPaths(lines []outputcache.OutputLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.RelPath
	}
	return out
}

// collectEnvVars reads the current values of the task's declared
// environment inputs, both for hashing into the manifest and for
// overlaying onto the runner's inherited environment.
func collectEnvVars(names []string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		out[name] = os.Getenv(name)
	}
	return out
}
