package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lazyrun/internal/graph"
	"lazyrun/internal/taskconfig"
	"lazyrun/internal/workspace"
)

// addGraphCommand registers "lazyrun graph <script...>": it resolves
// and prints the task graph's topological order and edges without
// running anything.
func addGraphCommand(parent *cobra.Command) {
	var filterPaths []string

	cmd := &cobra.Command{
		Use:   "graph <script> [script...]",
		Short: "Print the resolved task graph without executing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd.Context(), args, filterPaths)
		},
	}
	cmd.Flags().StringArrayVar(&filterPaths, "filter", nil, "restrict the graph to workspaces matching this path or glob")
	parent.AddCommand(cmd)
}

func runGraph(_ context.Context, scripts, filterPaths []string) error {
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
		requests = append(requests, taskconfig.RequestedTask{Script: script, FilterPaths: filterPaths})
	}

	g, err := graph.Build(proj, resolver, requests)
	if err != nil {
		return fmt.Errorf("building task graph: %w", err)
	}

	for _, key := range g.Ordered {
		node := g.Nodes[key]
		fmt.Fprintf(os.Stdout, "%s\n", key)
		for _, dep := range node.Dependencies {
			fmt.Fprintf(os.Stdout, "  -> %s\n", dep)
		}
	}
	return nil
}
