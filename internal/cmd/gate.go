package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chopstack/chopstack/internal/gates"
	"github.com/chopstack/chopstack/internal/logger"
)

// NewGateCommand creates the gate command.
func NewGateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gate <spec-file>",
		Short: "Check a specification is complete enough to plan from",
		Long: `Gate scans a specification document for gaps that make plans
unreliable: missing acceptance criteria, undefined scope, or too little
detail. Run it before turning the specification into a plan.

The exit code is 0 when no critical issues are found and 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateSpecFile(args[0])
		},
	}
}

func gateSpecFile(path string) error {
	console := logger.NewConsoleLogger(os.Stderr, "info")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read spec file: %w", err)
	}

	issues := gates.CheckSpec(string(data))
	for _, issue := range issues {
		if issue.Severity == gates.SeverityCritical {
			console.Error("%s", issue)
		} else {
			console.Warn("%s", issue)
		}
	}
	if gates.HasBlocking(issues) {
		return fmt.Errorf("specification %s is not ready for planning", path)
	}

	console.Success("specification %s passes the planning gate", path)
	return nil
}
