// Command lazyrun is a thin CLI harness over the core packages: it
// discovers the project, resolves configuration, builds the task
// graph, and drives the orchestrator, translating the result into an
// exit code (spec.md §6, SPEC_FULL.md §11).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lazyrun",
		Short: "Skip unchanged monorepo tasks and restore outputs from a local cache",
		Long: `lazyrun runs monorepo scripts across workspaces, computing a
deterministic fingerprint of each task's inputs so unchanged work is
skipped and its previously captured outputs are restored in place.`,
		SilenceUsage: true,
	}
	addRunCommand(cmd)
	addGraphCommand(cmd)
	addHistoryCommand(cmd)
	return cmd
}
