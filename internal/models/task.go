package models

import (
	"fmt"
	"regexp"
	"time"
)

// Complexity is a coarse size estimate for a task. It doubles as the weight
// used for critical-path and total-work metrics.
type Complexity string

// Valid complexity values, smallest to largest.
const (
	ComplexityXS Complexity = "XS"
	ComplexityS  Complexity = "S"
	ComplexityM  Complexity = "M"
	ComplexityL  Complexity = "L"
	ComplexityXL Complexity = "XL"
)

// Valid reports whether c is one of the five recognised complexity values.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityXS, ComplexityS, ComplexityM, ComplexityL, ComplexityXL:
		return true
	}
	return false
}

// Weight returns the scheduling weight for a complexity value.
// Unknown values weigh the same as M so metrics stay defined.
func (c Complexity) Weight() int {
	switch c {
	case ComplexityXS:
		return 1
	case ComplexityS:
		return 2
	case ComplexityM:
		return 3
	case ComplexityL:
		return 5
	case ComplexityXL:
		return 8
	}
	return 3
}

// TaskState is the runtime state of a task during an execution.
type TaskState string

// Task lifecycle states. Completed, failed, skipped and cancelled are terminal.
const (
	TaskPending   TaskState = "pending"
	TaskReady     TaskState = "ready"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskSkipped   TaskState = "skipped"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskCancelled:
		return true
	}
	return false
}

// StateTransition is one entry in a task's append-only state history.
type StateTransition struct {
	From   TaskState
	To     TaskState
	At     time.Time
	Reason string
}

// MinDescriptionLength is the minimum number of characters a task
// description must carry to be considered executable by an agent.
const MinDescriptionLength = 50

var kebabCasePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// IsKebabCase reports whether s is a lowercase kebab-case identifier.
func IsKebabCase(s string) bool {
	return kebabCasePattern.MatchString(s)
}

// Task is a single unit of work in a plan: an immutable description plus
// runtime state owned by the execution engine.
type Task struct {
	// Descriptive fields, populated from the plan file.
	ID                 string     `yaml:"id" json:"id"`
	Name               string     `yaml:"name" json:"name"`
	Description        string     `yaml:"description" json:"description"`
	Complexity         Complexity `yaml:"complexity" json:"complexity"`
	AcceptanceCriteria []string   `yaml:"acceptanceCriteria,omitempty" json:"acceptanceCriteria,omitempty"`
	Files              []string   `yaml:"files" json:"files"`
	Dependencies       []string   `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Phase              string     `yaml:"phase,omitempty" json:"phase,omitempty"`
	MaxRetries         int        `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`

	// Runtime fields. Never serialized; the plan stays read-only for the
	// duration of an execution.
	State        TaskState         `yaml:"-" json:"-"`
	RetryCount   int               `yaml:"-" json:"-"`
	StateHistory []StateTransition `yaml:"-" json:"-"`
	CommitHash   string            `yaml:"-" json:"-"`
	BranchName   string            `yaml:"-" json:"-"`
	WorktreePath string            `yaml:"-" json:"-"`
}

// Validate checks the structural requirements on a task's descriptive fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if !IsKebabCase(t.ID) {
		return fmt.Errorf("task %s: id must be kebab-case", t.ID)
	}
	if t.Name == "" {
		return fmt.Errorf("task %s: name is required", t.ID)
	}
	if len(t.Description) < MinDescriptionLength {
		return fmt.Errorf("task %s: description must be at least %d characters, got %d", t.ID, MinDescriptionLength, len(t.Description))
	}
	if !t.Complexity.Valid() {
		return fmt.Errorf("task %s: invalid complexity %q (valid: XS, S, M, L, XL)", t.ID, t.Complexity)
	}
	if len(t.Files) == 0 {
		return fmt.Errorf("task %s: at least one file is required", t.ID)
	}
	return nil
}

// Transition moves the task to a new state and appends the change to the
// state history. The zero-value state transitions from "pending".
func (t *Task) Transition(to TaskState, reason string) {
	from := t.State
	if from == "" {
		from = TaskPending
	}
	t.State = to
	t.StateHistory = append(t.StateHistory, StateTransition{
		From:   from,
		To:     to,
		At:     time.Now(),
		Reason: reason,
	})
}
