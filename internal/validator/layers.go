package validator

import (
	"fmt"
	"sort"

	"github.com/chopstack/chopstack/internal/models"
)

// Metrics summarises the shape of a plan's dependency graph.
type Metrics struct {
	TaskCount          int
	ExecutionLayers    int
	MaxParallelization int
	EstimatedWork      int // sum of complexity weights
	CriticalPath       int // longest weighted path through the DAG
}

// ExecutionLayers groups the plan's tasks into layers using Kahn's
// algorithm: layer 0 holds every task with no dependencies, layer k+1 every
// task whose dependencies all sit in layers <= k. Tasks within a layer are
// independent and safe to run concurrently. Ties are broken by task id so
// the result is deterministic.
func ExecutionLayers(plan *models.Plan) ([][]string, error) {
	if plan == nil || len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("plan has no tasks")
	}

	known := make(map[string]bool, len(plan.Tasks))
	for _, task := range plan.Tasks {
		known[task.ID] = true
	}

	inDegree := make(map[string]int, len(plan.Tasks))
	dependents := make(map[string][]string, len(plan.Tasks))
	for _, task := range plan.Tasks {
		if _, ok := inDegree[task.ID]; !ok {
			inDegree[task.ID] = 0
		}
		for _, dep := range task.Dependencies {
			if !known[dep] {
				return nil, fmt.Errorf("task %s depends on unknown task %s", task.ID, dep)
			}
			dependents[dep] = append(dependents[dep], task.ID)
			inDegree[task.ID]++
		}
	}

	var layers [][]string
	remaining := len(inDegree)
	for remaining > 0 {
		var layer []string
		for id, degree := range inDegree {
			if degree == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, fmt.Errorf("circular dependency detected")
		}
		sort.Strings(layer)
		layers = append(layers, layer)

		for _, id := range layer {
			delete(inDegree, id)
			remaining--
			for _, dep := range dependents[id] {
				if _, ok := inDegree[dep]; ok {
					inDegree[dep]--
				}
			}
		}
	}

	return layers, nil
}

// ExecutionOrder flattens the execution layers into a single permutation in
// which every task appears after all of its dependencies.
func ExecutionOrder(plan *models.Plan) ([]string, error) {
	layers, err := ExecutionLayers(plan)
	if err != nil {
		return nil, err
	}
	var order []string
	for _, layer := range layers {
		order = append(order, layer...)
	}
	return order, nil
}

// ComputeMetrics derives graph metrics from a plan whose layers are
// computable. The critical path is the longest path through the DAG with
// tasks weighted by complexity.
func ComputeMetrics(plan *models.Plan) (*Metrics, error) {
	layers, err := ExecutionLayers(plan)
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		TaskCount:       len(plan.Tasks),
		ExecutionLayers: len(layers),
	}
	for _, layer := range layers {
		if len(layer) > m.MaxParallelization {
			m.MaxParallelization = len(layer)
		}
	}

	weights := make(map[string]int, len(plan.Tasks))
	deps := make(map[string][]string, len(plan.Tasks))
	for _, task := range plan.Tasks {
		weights[task.ID] = task.Complexity.Weight()
		deps[task.ID] = task.Dependencies
		m.EstimatedWork += task.Complexity.Weight()
	}

	// Layers are already topologically ordered, so a single forward pass
	// computes the longest weighted path ending at each task.
	longest := make(map[string]int, len(plan.Tasks))
	for _, layer := range layers {
		for _, id := range layer {
			best := 0
			for _, dep := range deps[id] {
				if longest[dep] > best {
					best = longest[dep]
				}
			}
			longest[id] = best + weights[id]
			if longest[id] > m.CriticalPath {
				m.CriticalPath = longest[id]
			}
		}
	}

	return m, nil
}
