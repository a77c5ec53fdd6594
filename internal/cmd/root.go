// Package cmd wires the chopstack CLI: run executes a plan, validate
// checks one without side effects, history inspects past runs.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for chopstack.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chopstack",
		Short: "Parallel plan execution with per-task worktrees",
		Long: `Chopstack executes implementation plans by running one coding agent
per task in an isolated git worktree.

It parses plan files (YAML, JSON or Markdown), validates the task
dependency graph, executes independent tasks concurrently layer by
layer, and assembles the resulting commits into a branch stack.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewGateCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
