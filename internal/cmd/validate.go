package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chopstack/chopstack/internal/gates"
	"github.com/chopstack/chopstack/internal/logger"
	"github.com/chopstack/chopstack/internal/parser"
	"github.com/chopstack/chopstack/internal/validator"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	var showLayers bool

	cmd := &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Validate a plan without executing it",
		Long: `Validate parses the plan, checks the dependency graph (cycles, file
conflicts, missing dependencies) and reports the execution schedule.
Nothing is executed and no branches are created.

The exit code is 0 when the plan is valid and 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePlanFile(args[0], showLayers)
		},
	}

	cmd.Flags().BoolVar(&showLayers, "layers", false, "print the execution layers")

	return cmd
}

func validatePlanFile(planPath string, showLayers bool) error {
	console := logger.NewConsoleLogger(os.Stderr, "info")

	plan, warnings, err := parser.ParsePlanFile(planPath)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		console.Warn("%s", w)
	}

	report := validator.ValidatePlan(plan)
	printReport(console, report)
	if !report.Valid {
		return fmt.Errorf("plan %s is invalid", planPath)
	}

	for _, issue := range gates.CheckPlan(plan) {
		if issue.Severity == gates.SeverityCritical {
			console.Error("%s", issue)
		} else {
			console.Warn("%s", issue)
		}
	}

	metrics, err := validator.ComputeMetrics(plan)
	if err != nil {
		return err
	}
	console.Success("plan %q is valid: %d tasks, %d layers, max parallelization %d, critical path %d",
		plan.Name, metrics.TaskCount, metrics.ExecutionLayers, metrics.MaxParallelization, metrics.CriticalPath)

	if showLayers {
		layers, err := validator.ExecutionLayers(plan)
		if err != nil {
			return err
		}
		for i, layer := range layers {
			console.Info("layer %d: %s", i, strings.Join(layer, ", "))
		}
	}
	return nil
}

func printReport(console *logger.ConsoleLogger, report *validator.Report) {
	for _, msg := range report.Errors {
		console.Error("%s", msg)
	}
	for _, cycle := range report.CircularDependencies {
		console.Error("circular dependency: %s", strings.Join(cycle, " -> "))
	}
	for _, conflict := range report.Conflicts {
		console.Error("file conflict: %s", conflict)
	}
	for _, missing := range report.MissingDependencies {
		console.Error("missing dependency: %s", missing)
	}
	for _, orphan := range report.OrphanedTasks {
		console.Warn("orphaned task: %s", orphan)
	}
}
