package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/chopstack/chopstack/internal/models"
)

// Markdown plans use one level-2 heading per task in the form
// "## task-id: Task Name", followed by prose (the description) and
// metadata lists:
//
//	- Files: a.go, b.go
//	- Depends on: other-task
//	- Complexity: M
//	- Accept: tests pass
//
// The level-1 heading, if present, names the plan.

var taskHeadingRe = regexp.MustCompile(`^([a-z0-9][a-z0-9-]*)\s*:\s*(.+)$`)

// ParseMarkdownPlan parses a Markdown plan document.
func ParseMarkdownPlan(data []byte) (*models.Plan, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(data))

	plan := &models.Plan{}

	// Heading positions mark the section boundaries; section bodies are
	// then scanned line by line, which handles metadata lists more
	// reliably than walking list nodes.
	type section struct {
		id, name           string
		headStart, bodyEnd int
	}
	var sections []section

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		headingText := extractText(heading, data)
		switch heading.Level {
		case 1:
			if plan.Name == "" {
				plan.Name = headingText
			}
		case 2:
			m := taskHeadingRe.FindStringSubmatch(headingText)
			if m == nil {
				return ast.WalkContinue, nil
			}
			sections = append(sections, section{
				id:        m[1],
				name:      strings.TrimSpace(m[2]),
				headStart: headingLineStart(heading, data),
				bodyEnd:   headingEnd(heading, data),
			})
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse markdown plan: %w", err)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("markdown plan defines no tasks (want level-2 headings like \"## task-id: Task Name\")")
	}

	for i, sec := range sections {
		end := len(data)
		if i+1 < len(sections) {
			end = sections[i+1].headStart
		}
		task, err := parseTaskSection(sec.id, sec.name, string(data[sec.bodyEnd:end]))
		if err != nil {
			return nil, err
		}
		plan.Tasks = append(plan.Tasks, task)
	}

	plan.ApplyPhaseOrdering()
	return plan, nil
}

// extractText concatenates the literal text under a node.
func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := child.(*ast.Text); ok {
				sb.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// headingEnd returns the byte offset just past the heading's last line.
func headingEnd(h *ast.Heading, source []byte) int {
	lines := h.Lines()
	if lines.Len() == 0 {
		return 0
	}
	end := lines.At(lines.Len() - 1).Stop
	for end < len(source) && source[end] != '\n' {
		end++
	}
	if end < len(source) {
		end++
	}
	return end
}

// headingLineStart returns the byte offset of the heading's own line,
// including the leading "##" marker.
func headingLineStart(h *ast.Heading, source []byte) int {
	lines := h.Lines()
	if lines.Len() == 0 {
		return 0
	}
	pos := lines.At(0).Start
	for pos > 0 && source[pos-1] != '\n' {
		pos--
	}
	return pos
}

// Metadata line prefixes recognised inside a task section.
var metadataKeys = map[string]string{
	"files":      "files",
	"depends on": "deps",
	"depends":    "deps",
	"complexity": "complexity",
	"accept":     "accept",
	"phase":      "phase",
	"retries":    "retries",
}

func parseTaskSection(id, name, body string) (models.Task, error) {
	task := models.Task{
		ID:         id,
		Name:       name,
		Complexity: models.ComplexityM,
	}

	var descLines []string
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		key, value, ok := metadataLine(line)
		if !ok {
			if strings.HasPrefix(line, "#") {
				continue
			}
			descLines = append(descLines, raw)
			continue
		}
		switch key {
		case "files":
			task.Files = append(task.Files, splitList(value)...)
		case "deps":
			task.Dependencies = append(task.Dependencies, splitList(value)...)
		case "complexity":
			c := models.Complexity(strings.ToUpper(strings.TrimSpace(value)))
			if !c.Valid() {
				return models.Task{}, fmt.Errorf("task %s: invalid complexity %q", id, value)
			}
			task.Complexity = c
		case "accept":
			task.AcceptanceCriteria = append(task.AcceptanceCriteria, strings.TrimSpace(value))
		case "phase":
			task.Phase = strings.TrimSpace(value)
		case "retries":
			if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d", &task.MaxRetries); err != nil {
				return models.Task{}, fmt.Errorf("task %s: invalid retries %q", id, value)
			}
		}
	}

	task.Description = strings.TrimSpace(strings.Join(descLines, "\n"))
	return task, nil
}

// metadataLine matches "- Key: value" and "Key: value" list entries.
func metadataLine(line string) (key, value string, ok bool) {
	line = strings.TrimPrefix(strings.TrimPrefix(line, "- "), "* ")
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	normalized := strings.ToLower(strings.TrimSpace(line[:idx]))
	canonical, known := metadataKeys[normalized]
	if !known {
		return "", "", false
	}
	return canonical, line[idx+1:], true
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, "`")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
