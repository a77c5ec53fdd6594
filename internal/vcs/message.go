package vcs

import (
	"strings"

	"github.com/chopstack/chopstack/internal/models"
)

// commitSubjectLimit keeps subjects readable in one-line log output.
const commitSubjectLimit = 72

// BuildCommitMessage produces the commit message for a completed task:
// the task name as the subject, the description and acceptance criteria
// as the body. Deterministic for a given task, so re-runs produce
// identical messages.
func BuildCommitMessage(task models.Task) string {
	subject := strings.TrimSpace(task.Name)
	if subject == "" {
		subject = task.ID
	}
	if len(subject) > commitSubjectLimit {
		subject = subject[:commitSubjectLimit-3] + "..."
	}

	var b strings.Builder
	b.WriteString(subject)

	if desc := strings.TrimSpace(task.Description); desc != "" {
		b.WriteString("\n\n")
		b.WriteString(desc)
	}

	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("\n\nAcceptance criteria:\n")
		for _, criterion := range task.AcceptanceCriteria {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(criterion))
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
