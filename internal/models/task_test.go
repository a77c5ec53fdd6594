package models

import (
	"strings"
	"testing"
)

func validTask() Task {
	return Task{
		ID:          "add-parser",
		Name:        "Add parser",
		Description: strings.Repeat("Parse the plan file into the canonical schema. ", 3),
		Complexity:  ComplexityM,
		Files:       []string{"internal/parser/parser.go"},
	}
}

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr bool
	}{
		{name: "valid task", mutate: func(*Task) {}, wantErr: false},
		{name: "missing id", mutate: func(tk *Task) { tk.ID = "" }, wantErr: true},
		{name: "uppercase id", mutate: func(tk *Task) { tk.ID = "AddParser" }, wantErr: true},
		{name: "underscore id", mutate: func(tk *Task) { tk.ID = "add_parser" }, wantErr: true},
		{name: "missing name", mutate: func(tk *Task) { tk.Name = "" }, wantErr: true},
		{name: "short description", mutate: func(tk *Task) { tk.Description = "too short" }, wantErr: true},
		{name: "invalid complexity", mutate: func(tk *Task) { tk.Complexity = "XXL" }, wantErr: true},
		{name: "no files", mutate: func(tk *Task) { tk.Files = nil }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := validTask()
			tt.mutate(&task)
			err := task.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestComplexityWeight(t *testing.T) {
	weights := map[Complexity]int{
		ComplexityXS: 1,
		ComplexityS:  2,
		ComplexityM:  3,
		ComplexityL:  5,
		ComplexityXL: 8,
	}
	for c, want := range weights {
		if got := c.Weight(); got != want {
			t.Errorf("Weight(%s) = %d, want %d", c, got, want)
		}
	}
	// Unknown complexity falls back to the middle weight.
	if got := Complexity("").Weight(); got != 3 {
		t.Errorf("Weight(empty) = %d, want 3", got)
	}
}

func TestTaskTransition(t *testing.T) {
	task := validTask()

	task.Transition(TaskReady, "dependencies complete")
	task.Transition(TaskRunning, "dispatched")
	task.Transition(TaskCompleted, "")

	if task.State != TaskCompleted {
		t.Errorf("State = %s, want %s", task.State, TaskCompleted)
	}
	if len(task.StateHistory) != 3 {
		t.Fatalf("StateHistory length = %d, want 3", len(task.StateHistory))
	}
	if task.StateHistory[0].From != TaskPending {
		t.Errorf("first transition From = %s, want %s", task.StateHistory[0].From, TaskPending)
	}
	if task.StateHistory[2].To != TaskCompleted {
		t.Errorf("last transition To = %s, want %s", task.StateHistory[2].To, TaskCompleted)
	}
	if !task.State.Terminal() {
		t.Error("completed state should be terminal")
	}
}

func TestApplyPhaseOrdering(t *testing.T) {
	desc := strings.Repeat("A task description long enough to pass validation. ", 2)
	plan := &Plan{
		Name: "phased",
		Phases: []Phase{
			{ID: "foundation", Name: "Foundation", Strategy: PhaseSequential, Tasks: []string{"a", "b"}},
			{ID: "features", Name: "Features", Strategy: PhaseParallel, Tasks: []string{"c"}, Requires: []string{"foundation"}},
		},
		Tasks: []Task{
			{ID: "a", Name: "A", Description: desc, Complexity: ComplexityS, Files: []string{"a.go"}},
			{ID: "b", Name: "B", Description: desc, Complexity: ComplexityS, Files: []string{"b.go"}},
			{ID: "c", Name: "C", Description: desc, Complexity: ComplexityS, Files: []string{"c.go"}},
		},
	}

	plan.ApplyPhaseOrdering()

	b, _ := plan.TaskByID("b")
	if len(b.Dependencies) != 1 || b.Dependencies[0] != "a" {
		t.Errorf("sequential phase should chain b onto a, got %v", b.Dependencies)
	}

	c, _ := plan.TaskByID("c")
	if len(c.Dependencies) != 2 {
		t.Fatalf("c should depend on both foundation tasks, got %v", c.Dependencies)
	}

	// Idempotent: a second application must not duplicate dependencies.
	plan.ApplyPhaseOrdering()
	if len(c.Dependencies) != 2 {
		t.Errorf("ApplyPhaseOrdering is not idempotent, got %v", c.Dependencies)
	}
}
