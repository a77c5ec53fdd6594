// Package gates enforces the process gates around plan generation: a
// pre-generation check that a specification is complete enough to plan
// from, and a post-generation quality check on the resulting plan.
// CRITICAL issues block the pipeline; warnings only log.
package gates

import (
	"fmt"
	"strings"

	"github.com/chopstack/chopstack/internal/models"
)

// Severity classifies a gate issue.
type Severity string

// Issue severities. Critical issues block the pipeline.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
)

// Issue is a single gate finding with an actionable remediation.
type Issue struct {
	Severity    Severity
	Code        string
	Message     string
	Remediation string
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s (%s)", i.Severity, i.Code, i.Message, i.Remediation)
}

// HasBlocking reports whether any issue is critical.
func HasBlocking(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// minSpecLength is the shortest spec text worth planning from.
const minSpecLength = 200

// CheckSpec runs the pre-generation gate over raw specification text.
func CheckSpec(spec string) []Issue {
	var issues []Issue
	trimmed := strings.TrimSpace(spec)
	lower := strings.ToLower(trimmed)

	if trimmed == "" {
		return []Issue{{
			Severity:    SeverityCritical,
			Code:        "spec-empty",
			Message:     "specification is empty",
			Remediation: "write the specification before generating a plan",
		}}
	}
	if len(trimmed) < minSpecLength {
		issues = append(issues, Issue{
			Severity:    SeverityCritical,
			Code:        "spec-too-short",
			Message:     fmt.Sprintf("specification is only %d characters", len(trimmed)),
			Remediation: "describe the goal, constraints and affected areas in more detail",
		})
	}
	if !strings.Contains(lower, "accept") && !strings.Contains(lower, "success") &&
		!strings.Contains(lower, "criteria") {
		issues = append(issues, Issue{
			Severity:    SeverityCritical,
			Code:        "spec-no-criteria",
			Message:     "specification defines no acceptance or success criteria",
			Remediation: "state how to tell the work is done",
		})
	}
	if !strings.Contains(lower, "file") && !strings.Contains(lower, "/") &&
		!strings.Contains(lower, "package") && !strings.Contains(lower, "module") {
		issues = append(issues, Issue{
			Severity:    SeverityWarning,
			Code:        "spec-no-scope",
			Message:     "specification names no files, packages or modules",
			Remediation: "list the areas of the codebase the work touches",
		})
	}
	return issues
}

// Plan quality thresholds.
const (
	maxFilesPerTask  = 10
	maxTasksPerLayer = 12
)

// CheckPlan runs the post-generation gate over a structurally valid plan.
func CheckPlan(plan *models.Plan) []Issue {
	var issues []Issue
	if plan == nil {
		return []Issue{{
			Severity:    SeverityCritical,
			Code:        "plan-missing",
			Message:     "no plan to check",
			Remediation: "generate a plan first",
		}}
	}

	for _, task := range plan.Tasks {
		if len(task.Files) > maxFilesPerTask {
			issues = append(issues, Issue{
				Severity:    SeverityCritical,
				Code:        "task-too-broad",
				Message:     fmt.Sprintf("task %s touches %d files", task.ID, len(task.Files)),
				Remediation: "split the task so each piece owns a smaller file set",
			})
		}
		if task.Complexity == models.ComplexityXL {
			issues = append(issues, Issue{
				Severity:    SeverityWarning,
				Code:        "task-xl",
				Message:     fmt.Sprintf("task %s is rated XL", task.ID),
				Remediation: "consider splitting XL tasks; single-sitting tasks fail less",
			})
		}
		if len(task.AcceptanceCriteria) == 0 {
			issues = append(issues, Issue{
				Severity:    SeverityWarning,
				Code:        "task-no-criteria",
				Message:     fmt.Sprintf("task %s has no acceptance criteria", task.ID),
				Remediation: "add at least one verifiable acceptance criterion",
			})
		}
	}

	if len(plan.Tasks) > maxTasksPerLayer && allIndependent(plan.Tasks) {
		issues = append(issues, Issue{
			Severity:    SeverityWarning,
			Code:        "plan-flat",
			Message:     fmt.Sprintf("all %d tasks are independent", len(plan.Tasks)),
			Remediation: "a plan this wide usually hides missing dependencies",
		})
	}
	return issues
}

func allIndependent(tasks []models.Task) bool {
	for _, task := range tasks {
		if len(task.Dependencies) > 0 {
			return false
		}
	}
	return true
}
