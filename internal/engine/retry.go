package engine

import (
	"fmt"
	"strings"

	"github.com/chopstack/chopstack/internal/models"
)

// BuildTaskPrompt renders the prompt a task's agent receives on its first
// attempt: the task description, the files it may touch, and the
// acceptance criteria it must satisfy.
func BuildTaskPrompt(task models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s\n\n", task.Name)
	b.WriteString(strings.TrimSpace(task.Description))
	b.WriteString("\n")

	if len(task.Files) > 0 {
		b.WriteString("\nFiles you may modify:\n")
		for _, f := range task.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

// BuildRetryPrompt augments the original prompt with the previous
// attempt's error, the files it already touched, and an optional
// machine-readable hint. Pure: same inputs, same prompt.
func BuildRetryPrompt(original, lastError string, touchedFiles []string, hint string) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n## Previous attempt failed\n\n")
	fmt.Fprintf(&b, "Error:\n%s\n", strings.TrimSpace(lastError))

	if len(touchedFiles) > 0 {
		b.WriteString("\nFiles already modified by the previous attempt:\n")
		for _, f := range touchedFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if hint != "" {
		fmt.Fprintf(&b, "\nHint: %s\n", hint)
	}
	b.WriteString("\nFix the problem above and complete the task.\n")
	return b.String()
}
