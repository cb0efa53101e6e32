// Package scheduler drives a graph.Graph's tasks to completion under a
// bounded concurrency limit, honoring per-script serialization rules
// (spec.md §4.2).
package scheduler

import (
	"context"
	"os"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"lazyrun/internal/graph"
)

// Execute is invoked once per scheduled task, on its own goroutine. It
// must return the task's terminal status; the scheduler transitions the
// node to that status and re-enters its tick loop.
type Execute func(ctx context.Context, task *graph.ScheduledTask) graph.Status

// testModeEnv and forceParallelEnv are the "special environment
// variables recognized by the scheduler" of spec.md §6.
const (
	testModeEnv      = "LAZYRUN_TEST_MODE"
	forceParallelEnv = "LAZYRUN_FORCE_PARALLEL"
)

// DefaultMaxConcurrent computes maxConcurrent per spec.md §4.2: normally
// max(1, cpuCount-1), forced to 1 in test mode and to 2 when the
// parallelism-forcing variable is set.
func DefaultMaxConcurrent() int {
	if _, ok := os.LookupEnv(testModeEnv); ok {
		return 1
	}
	if _, ok := os.LookupEnv(forceParallelEnv); ok {
		return 2
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Scheduler is the single-threaded cooperative controller of spec.md
// §4.2: task starts are decided by one logical actor (guarded by mu),
// while workers run concurrently as independent goroutines bounded by
// a semaphore.
type Scheduler struct {
	g             *graph.Graph
	maxConcurrent int
	execute       Execute

	mu              sync.Mutex
	running         map[graph.TaskKey]bool
	runningByScript map[string]int // count of running parallel=false tasks per script
	sem             *semaphore.Weighted
	completions     chan graph.TaskKey
}

// New builds a Scheduler for g. maxConcurrent<=0 selects
// DefaultMaxConcurrent().
func New(g *graph.Graph, maxConcurrent int, execute Execute) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent()
	}
	return &Scheduler{
		g:               g,
		maxConcurrent:   maxConcurrent,
		execute:         execute,
		running:         map[graph.TaskKey]bool{},
		runningByScript: map[string]int{},
		sem:             semaphore.NewWeighted(int64(maxConcurrent)),
		completions:     make(chan graph.TaskKey, len(g.Nodes)),
	}
}

// Run drives every task to a terminal status and returns once the run
// is complete (spec.md §4.2's tick contract). It never returns an error
// itself; task failures are reflected in each node's Status.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	s.tick(ctx, &wg)

	for {
		s.mu.Lock()
		done := s.isComplete()
		s.mu.Unlock()
		if done {
			break
		}
		<-s.completions
		s.tick(ctx, &wg)
	}
	wg.Wait()
}

// tick implements spec.md §4.2's tick routine: snapshot ready tasks in
// stable order, then start as many as the semaphore has capacity for.
// The concurrency gate is the semaphore itself (TryAcquire), not a
// hand-counted limit, so maxConcurrent is enforced in one place.
func (s *Scheduler) tick(ctx context.Context, wg *sync.WaitGroup) {
	s.mu.Lock()
	ready := s.readyTasks()

	for _, key := range ready {
		node := s.g.Nodes[key]
		if !node.Config.Parallel && s.runningByScript[node.Script] > 0 {
			continue
		}
		if !s.sem.TryAcquire(1) {
			break
		}

		node.Status = graph.StatusRunning
		s.running[key] = true
		if !node.Config.Parallel {
			s.runningByScript[node.Script]++
		}

		wg.Add(1)
		go s.runWorker(ctx, wg, node)
	}
	s.mu.Unlock()
}

func (s *Scheduler) runWorker(ctx context.Context, wg *sync.WaitGroup, node *graph.ScheduledTask) {
	defer wg.Done()

	final := s.execute(ctx, node)

	s.mu.Lock()
	node.Status = final
	delete(s.running, node.Key)
	if !node.Config.Parallel {
		s.runningByScript[node.Script]--
	}
	s.mu.Unlock()

	// Release the slot before signalling completion so the tick that the
	// signal triggers can start the next ready task in it.
	s.sem.Release(1)
	s.completions <- node.Key
}

// readyTasks returns the deterministically ordered list of pending
// tasks whose dependencies are all successful (spec.md §4.2, §5).
// Callers must hold s.mu.
func (s *Scheduler) readyTasks() []graph.TaskKey {
	var ready []graph.TaskKey
	for _, key := range s.g.Ordered {
		node := s.g.Nodes[key]
		if node.Status != graph.StatusPending {
			continue
		}
		if s.dependenciesSucceeded(node) {
			ready = append(ready, key)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	return ready
}

func (s *Scheduler) dependenciesSucceeded(node *graph.ScheduledTask) bool {
	for _, dep := range node.Dependencies {
		if !s.g.Nodes[dep].Status.IsSuccess() {
			return false
		}
	}
	return true
}

// isComplete reports whether both the running and ready sets are empty
// (spec.md §4.2's tick step 2). A task left pending forever because a
// dependency failed is, by definition, never in the ready set again,
// so this correctly terminates the run once nothing more can progress.
// Callers must hold s.mu.
func (s *Scheduler) isComplete() bool {
	return len(s.running) == 0 && len(s.readyTasks()) == 0
}
