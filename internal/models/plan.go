package models

import "fmt"

// PlanStrategy is the top-level execution strategy of a plan.
type PlanStrategy string

// Recognised plan strategies.
const (
	StrategySequential     PlanStrategy = "sequential"
	StrategyParallel       PlanStrategy = "parallel"
	StrategyPhasedParallel PlanStrategy = "phased-parallel"
)

// Valid reports whether s is a recognised plan strategy.
// An empty strategy is valid and defaults to parallel.
func (s PlanStrategy) Valid() bool {
	switch s {
	case "", StrategySequential, StrategyParallel, StrategyPhasedParallel:
		return true
	}
	return false
}

// PlanMode selects what an execution run actually does with the plan.
type PlanMode string

// Recognised plan modes.
const (
	ModePlan     PlanMode = "plan"
	ModeExecute  PlanMode = "execute"
	ModeValidate PlanMode = "validate"
)

// Valid reports whether m is a recognised plan mode. Empty defaults to execute.
func (m PlanMode) Valid() bool {
	switch m {
	case "", ModePlan, ModeExecute, ModeValidate:
		return true
	}
	return false
}

// PhaseStrategy controls ordering of tasks inside a single phase.
type PhaseStrategy string

// Recognised phase strategies.
const (
	PhaseSequential PhaseStrategy = "sequential"
	PhaseParallel   PhaseStrategy = "parallel"
)

// Valid reports whether s is a recognised phase strategy.
func (s PhaseStrategy) Valid() bool {
	return s == PhaseSequential || s == PhaseParallel
}

// Phase is an optional grouping of tasks with its own ordering strategy and
// phase-level dependencies.
type Phase struct {
	ID       string        `yaml:"id" json:"id"`
	Name     string        `yaml:"name" json:"name"`
	Strategy PhaseStrategy `yaml:"strategy" json:"strategy"`
	Tasks    []string      `yaml:"tasks" json:"tasks"`
	Requires []string      `yaml:"requires,omitempty" json:"requires,omitempty"`
}

// Validate checks the structural requirements on a phase.
func (p *Phase) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("phase id is required")
	}
	if !IsKebabCase(p.ID) {
		return fmt.Errorf("phase %s: id must be kebab-case", p.ID)
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("phase %s: at least one task is required", p.ID)
	}
	if !p.Strategy.Valid() {
		return fmt.Errorf("phase %s: invalid strategy %q (valid: sequential, parallel)", p.ID, p.Strategy)
	}
	return nil
}

// Plan is a named, validated graph of tasks with optional phase grouping.
// A plan is read-only for the duration of an execution; per-task runtime
// state is owned exclusively by the execution engine.
type Plan struct {
	Name           string       `yaml:"name" json:"name"`
	Strategy       PlanStrategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Mode           PlanMode     `yaml:"mode,omitempty" json:"mode,omitempty"`
	Phases         []Phase      `yaml:"phases,omitempty" json:"phases,omitempty"`
	Tasks          []Task       `yaml:"tasks" json:"tasks"`
	SuccessMetrics []string     `yaml:"successMetrics,omitempty" json:"successMetrics,omitempty"`

	// FilePath is the absolute path the plan was loaded from, if any.
	FilePath string `yaml:"-" json:"-"`
}

// TaskByID returns a pointer to the task with the given id.
func (p *Plan) TaskByID(id string) (*Task, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}

// PhaseByID returns a pointer to the phase with the given id.
func (p *Plan) PhaseByID(id string) (*Phase, bool) {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			return &p.Phases[i], true
		}
	}
	return nil, false
}

// ApplyPhaseOrdering folds phase structure into task dependencies so the
// layering algorithm needs no phase special-casing:
//
//   - a sequential phase chains each member onto its predecessor;
//   - every task in a phase depends on every task of the phases it requires.
//
// Dependencies already present are never duplicated. Unknown task or phase
// ids are left for the validator to report.
func (p *Plan) ApplyPhaseOrdering() {
	for _, phase := range p.Phases {
		if phase.Strategy == PhaseSequential {
			for i := 1; i < len(phase.Tasks); i++ {
				if task, ok := p.TaskByID(phase.Tasks[i]); ok {
					task.Dependencies = appendUnique(task.Dependencies, phase.Tasks[i-1])
				}
			}
		}
		for _, reqID := range phase.Requires {
			req, ok := p.PhaseByID(reqID)
			if !ok {
				continue
			}
			for _, taskID := range phase.Tasks {
				task, ok := p.TaskByID(taskID)
				if !ok {
					continue
				}
				for _, dep := range req.Tasks {
					task.Dependencies = appendUnique(task.Dependencies, dep)
				}
			}
		}
	}
}

func appendUnique(deps []string, id string) []string {
	for _, d := range deps {
		if d == id {
			return deps
		}
	}
	return append(deps, id)
}
