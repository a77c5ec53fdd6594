// Package validator performs the static checks that make a plan safely
// executable: structural validation, id uniqueness, dependency closure,
// cycle detection, parallel file-write conflicts and orphan detection.
// It also computes execution layers and parallelism metrics.
package validator

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chopstack/chopstack/internal/models"
)

// Report is the outcome of validating a plan. Valid is true iff Errors is
// empty and none of CircularDependencies, MissingDependencies or Conflicts
// is populated. OrphanedTasks is informational and never affects Valid.
type Report struct {
	Valid                bool
	Errors               []string
	CircularDependencies [][]string
	Conflicts            []string
	MissingDependencies  []string
	OrphanedTasks        []string
}

// ValidatePlan runs every static check against the plan and returns a
// deterministic report: all slices are sorted so repeated validation of the
// same plan yields byte-identical output.
func ValidatePlan(plan *models.Plan) *Report {
	report := &Report{}

	if plan == nil {
		report.Errors = append(report.Errors, "plan is nil")
		return report
	}
	if len(plan.Tasks) == 0 {
		report.Errors = append(report.Errors, "plan has no tasks")
		return report
	}
	if !plan.Strategy.Valid() {
		report.Errors = append(report.Errors, fmt.Sprintf("invalid plan strategy %q", plan.Strategy))
	}
	if !plan.Mode.Valid() {
		report.Errors = append(report.Errors, fmt.Sprintf("invalid plan mode %q", plan.Mode))
	}

	// Structural checks and task id uniqueness.
	taskIDs := make(map[string]bool, len(plan.Tasks))
	for i := range plan.Tasks {
		task := &plan.Tasks[i]
		if err := task.Validate(); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
		if task.ID == "" {
			continue
		}
		if taskIDs[task.ID] {
			report.Errors = append(report.Errors, fmt.Sprintf("duplicate task id %q", task.ID))
		}
		taskIDs[task.ID] = true
	}

	validatePhases(plan, taskIDs, report)

	// Dependency closure.
	missing := make(map[string]bool)
	for _, task := range plan.Tasks {
		for _, dep := range task.Dependencies {
			if !taskIDs[dep] {
				missing[fmt.Sprintf("task %s depends on unknown task %s", task.ID, dep)] = true
			}
		}
	}
	for m := range missing {
		report.MissingDependencies = append(report.MissingDependencies, m)
	}
	sort.Strings(report.MissingDependencies)

	// Cycle detection over the task graph.
	report.CircularDependencies = findCycles(plan.Tasks)

	// File-conflict analysis and orphan detection only make sense on a
	// graph whose edges all resolve and that has no cycles.
	if len(report.MissingDependencies) == 0 && len(report.CircularDependencies) == 0 {
		report.Conflicts = findFileConflicts(plan.Tasks)
		report.OrphanedTasks = findOrphans(plan.Tasks)
	}

	sort.Strings(report.Errors)
	report.Valid = len(report.Errors) == 0 &&
		len(report.CircularDependencies) == 0 &&
		len(report.MissingDependencies) == 0 &&
		len(report.Conflicts) == 0
	return report
}

// validatePhases checks phase structure: uniqueness, membership, strategy
// and an acyclic phase dependency graph.
func validatePhases(plan *models.Plan, taskIDs map[string]bool, report *Report) {
	if len(plan.Phases) == 0 {
		return
	}

	phaseIDs := make(map[string]bool, len(plan.Phases))
	for i := range plan.Phases {
		phase := &plan.Phases[i]
		if err := phase.Validate(); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
		if phase.ID == "" {
			continue
		}
		if phaseIDs[phase.ID] {
			report.Errors = append(report.Errors, fmt.Sprintf("duplicate phase id %q", phase.ID))
		}
		phaseIDs[phase.ID] = true

		for _, taskID := range phase.Tasks {
			if !taskIDs[taskID] {
				report.Errors = append(report.Errors, fmt.Sprintf("phase %s references unknown task %s", phase.ID, taskID))
			}
		}
	}

	for _, phase := range plan.Phases {
		for _, req := range phase.Requires {
			if !phaseIDs[req] {
				report.Errors = append(report.Errors, fmt.Sprintf("phase %s requires unknown phase %s", phase.ID, req))
			}
		}
	}

	if hasPhaseCycle(plan.Phases) {
		report.Errors = append(report.Errors, "phase dependency graph contains a cycle")
	}
}

// findCycles detects cycles with a three-colour DFS and returns the cycle
// paths. Each cycle is reported once, rooted at its smallest member id so
// output is deterministic.
func findCycles(tasks []models.Task) [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	deps := make(map[string][]string, len(tasks))
	known := make(map[string]bool, len(tasks))
	var ids []string
	for _, task := range tasks {
		known[task.ID] = true
		ids = append(ids, task.ID)
	}
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			if known[dep] {
				deps[task.ID] = append(deps[task.ID], dep)
			}
		}
	}
	sort.Strings(ids)
	for id := range deps {
		sort.Strings(deps[id])
	}

	colors := make(map[string]int, len(tasks))
	var stack []string
	var cycles [][]string
	seen := make(map[string]bool)

	var dfs func(node string)
	dfs = func(node string) {
		colors[node] = gray
		stack = append(stack, node)

		for _, dep := range deps[node] {
			switch colors[dep] {
			case gray:
				// Back edge: the cycle is the stack suffix starting at dep.
				start := 0
				for i, id := range stack {
					if id == dep {
						start = i
						break
					}
				}
				cycle := canonicalCycle(stack[start:])
				key := strings.Join(cycle, "->")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			case white:
				dfs(dep)
			}
		}

		stack = stack[:len(stack)-1]
		colors[node] = black
	}

	for _, id := range ids {
		if colors[id] == white {
			dfs(id)
		}
	}
	return cycles
}

// canonicalCycle rotates a cycle path so it starts at its smallest id.
func canonicalCycle(path []string) []string {
	minIdx := 0
	for i, id := range path {
		if id < path[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, 0, len(path))
	out = append(out, path[minIdx:]...)
	out = append(out, path[:minIdx]...)
	return out
}

func hasPhaseCycle(phases []models.Phase) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	known := make(map[string]bool, len(phases))
	edges := make(map[string][]string, len(phases))
	for _, p := range phases {
		known[p.ID] = true
	}
	for _, p := range phases {
		for _, req := range p.Requires {
			if req == p.ID {
				return true
			}
			if known[req] {
				edges[p.ID] = append(edges[p.ID], req)
			}
		}
	}

	colors := make(map[string]int, len(phases))
	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		for _, next := range edges[node] {
			if colors[next] == gray {
				return true
			}
			if colors[next] == white && dfs(next) {
				return true
			}
		}
		colors[node] = black
		return false
	}

	for _, p := range phases {
		if colors[p.ID] == white && dfs(p.ID) {
			return true
		}
	}
	return false
}

// findFileConflicts reports every pair of tasks that write overlapping
// files without a transitive ordering between them. Reachability is the
// transitive closure of the dependency relation, computed by BFS per task.
func findFileConflicts(tasks []models.Task) []string {
	reach := reachability(tasks)

	var conflicts []string
	for i := range tasks {
		for j := i + 1; j < len(tasks); j++ {
			a, b := &tasks[i], &tasks[j]
			overlap := fileOverlap(a.Files, b.Files)
			if len(overlap) == 0 {
				continue
			}
			if reach[a.ID][b.ID] || reach[b.ID][a.ID] {
				continue // one transitively depends on the other
			}
			first, second := a.ID, b.ID
			if second < first {
				first, second = second, first
			}
			conflicts = append(conflicts, fmt.Sprintf(
				"tasks %s and %s both modify %s with no ordering dependency between them",
				first, second, strings.Join(overlap, ", ")))
		}
	}
	sort.Strings(conflicts)
	return conflicts
}

// reachability returns, for each task, the set of tasks reachable by
// following dependency edges.
func reachability(tasks []models.Task) map[string]map[string]bool {
	deps := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		deps[task.ID] = task.Dependencies
	}

	reach := make(map[string]map[string]bool, len(tasks))
	for _, task := range tasks {
		visited := make(map[string]bool)
		queue := append([]string(nil), deps[task.ID]...)
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if visited[id] {
				continue
			}
			visited[id] = true
			queue = append(queue, deps[id]...)
		}
		reach[task.ID] = visited
	}
	return reach
}

func fileOverlap(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[filepath.Clean(f)] = true
	}
	var overlap []string
	seen := make(map[string]bool)
	for _, f := range b {
		clean := filepath.Clean(f)
		if set[clean] && !seen[clean] {
			seen[clean] = true
			overlap = append(overlap, clean)
		}
	}
	sort.Strings(overlap)
	return overlap
}

// findOrphans reports tasks with neither dependencies nor dependents in a
// multi-task plan. Orphans are informational, not errors.
func findOrphans(tasks []models.Task) []string {
	if len(tasks) < 2 {
		return nil
	}

	hasDependent := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			hasDependent[dep] = true
		}
	}

	var orphans []string
	for _, task := range tasks {
		if len(task.Dependencies) == 0 && !hasDependent[task.ID] {
			orphans = append(orphans, task.ID)
		}
	}
	sort.Strings(orphans)
	return orphans
}
