package validator

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chopstack/chopstack/internal/models"
)

const testDescription = "A task description comfortably longer than the fifty character structural minimum."

func task(id string, files []string, deps ...string) models.Task {
	return models.Task{
		ID:           id,
		Name:         "Task " + id,
		Description:  testDescription,
		Complexity:   models.ComplexityM,
		Files:        files,
		Dependencies: deps,
	}
}

func planOf(tasks ...models.Task) *models.Plan {
	return &models.Plan{Name: "test-plan", Tasks: tasks}
}

func TestValidatePlanValid(t *testing.T) {
	plan := planOf(
		task("root", []string{"a.go"}),
		task("leaf", []string{"b.go"}, "root"),
	)

	report := ValidatePlan(plan)

	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.CircularDependencies)
	assert.Empty(t, report.MissingDependencies)
	assert.Empty(t, report.Conflicts)
}

func TestValidatePlanStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		plan *models.Plan
		want string
	}{
		{
			name: "empty plan",
			plan: &models.Plan{Name: "empty"},
			want: "no tasks",
		},
		{
			name: "duplicate task ids",
			plan: planOf(task("a", []string{"a.go"}), task("a", []string{"b.go"})),
			want: "duplicate task id",
		},
		{
			name: "short description",
			plan: func() *models.Plan {
				tk := task("a", []string{"a.go"})
				tk.Description = "too short"
				return planOf(tk)
			}(),
			want: "description",
		},
		{
			name: "invalid strategy",
			plan: func() *models.Plan {
				p := planOf(task("a", []string{"a.go"}))
				p.Strategy = "zigzag"
				return p
			}(),
			want: "invalid plan strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := ValidatePlan(tt.plan)
			require.False(t, report.Valid)
			found := false
			for _, e := range report.Errors {
				if strings.Contains(e, tt.want) {
					found = true
				}
			}
			assert.True(t, found, "expected an error containing %q, got %v", tt.want, report.Errors)
		})
	}
}

func TestValidatePlanMissingDependency(t *testing.T) {
	plan := planOf(task("a", []string{"a.go"}, "ghost"))

	report := ValidatePlan(plan)

	require.False(t, report.Valid)
	require.Len(t, report.MissingDependencies, 1)
	assert.Contains(t, report.MissingDependencies[0], "ghost")
}

func TestValidatePlanCycleOfTwo(t *testing.T) {
	plan := planOf(
		task("a", []string{"a.go"}, "b"),
		task("b", []string{"b.go"}, "a"),
	)

	report := ValidatePlan(plan)

	require.False(t, report.Valid)
	require.Len(t, report.CircularDependencies, 1)
	cycle := report.CircularDependencies[0]
	assert.Contains(t, cycle, "a")
	assert.Contains(t, cycle, "b")
}

func TestValidatePlanCycleOfThree(t *testing.T) {
	plan := planOf(
		task("a", []string{"a.go"}, "c"),
		task("b", []string{"b.go"}, "a"),
		task("c", []string{"c.go"}, "b"),
	)

	report := ValidatePlan(plan)

	require.False(t, report.Valid)
	require.Len(t, report.CircularDependencies, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, report.CircularDependencies[0])
}

func TestValidatePlanFileConflict(t *testing.T) {
	plan := planOf(
		task("a", []string{"src/shared.ts"}),
		task("b", []string{"src/shared.ts"}),
	)

	report := ValidatePlan(plan)

	require.False(t, report.Valid)
	require.Len(t, report.Conflicts, 1)
	assert.Contains(t, report.Conflicts[0], "src/shared.ts")
	assert.Contains(t, report.Conflicts[0], "a")
	assert.Contains(t, report.Conflicts[0], "b")
}

func TestValidatePlanOverlapWithOrderingIsSafe(t *testing.T) {
	// b transitively depends on a through mid, so sharing a file is fine.
	plan := planOf(
		task("a", []string{"src/shared.ts"}),
		task("mid", []string{"mid.go"}, "a"),
		task("b", []string{"src/shared.ts"}, "mid"),
	)

	report := ValidatePlan(plan)

	assert.True(t, report.Valid)
	assert.Empty(t, report.Conflicts)
}

func TestValidatePlanOrphans(t *testing.T) {
	plan := planOf(
		task("a", []string{"a.go"}),
		task("b", []string{"b.go"}, "a"),
		task("island", []string{"c.go"}),
	)

	report := ValidatePlan(plan)

	assert.True(t, report.Valid, "orphans are informational, not errors")
	assert.Equal(t, []string{"island"}, report.OrphanedTasks)
}

func TestValidatePlanPhaseErrors(t *testing.T) {
	plan := planOf(task("a", []string{"a.go"}))
	plan.Phases = []models.Phase{
		{ID: "p1", Name: "P1", Strategy: models.PhaseParallel, Tasks: []string{"a"}, Requires: []string{"p2"}},
		{ID: "p2", Name: "P2", Strategy: models.PhaseParallel, Tasks: []string{"nope"}, Requires: []string{"p1"}},
	}

	report := ValidatePlan(plan)

	require.False(t, report.Valid)
	joined := strings.Join(report.Errors, "\n")
	assert.Contains(t, joined, "unknown task nope")
	assert.Contains(t, joined, "phase dependency graph contains a cycle")
}

func TestValidatePlanIdempotent(t *testing.T) {
	plan := planOf(
		task("a", []string{"src/shared.ts"}, "missing"),
		task("b", []string{"src/shared.ts"}),
	)

	first := ValidatePlan(plan)
	second := ValidatePlan(plan)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("reports differ between runs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestExecutionLayersSingleTask(t *testing.T) {
	layers, err := ExecutionLayers(planOf(task("only", []string{"a.go"})))

	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, []string{"only"}, layers[0])
}

func TestExecutionLayersIndependentTasks(t *testing.T) {
	plan := planOf(
		task("c", []string{"c.go"}),
		task("a", []string{"a.go"}),
		task("b", []string{"b.go"}),
	)

	layers, err := ExecutionLayers(plan)

	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, []string{"a", "b", "c"}, layers[0], "ids sorted for determinism")
}

func TestExecutionLayersDiamond(t *testing.T) {
	plan := planOf(
		task("root", []string{"root.go"}),
		task("left", []string{"left.go"}, "root"),
		task("right", []string{"right.go"}, "root"),
		task("merge", []string{"merge.go"}, "left", "right"),
	)

	layers, err := ExecutionLayers(plan)

	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, []string{"root"}, layers[0])
	assert.Equal(t, []string{"left", "right"}, layers[1])
	assert.Equal(t, []string{"merge"}, layers[2])

	metrics, err := ComputeMetrics(plan)
	require.NoError(t, err)
	assert.Equal(t, 4, metrics.TaskCount)
	assert.Equal(t, 3, metrics.ExecutionLayers)
	assert.Equal(t, 2, metrics.MaxParallelization)
}

func TestExecutionLayersCycleFails(t *testing.T) {
	plan := planOf(
		task("a", []string{"a.go"}, "b"),
		task("b", []string{"b.go"}, "a"),
	)

	_, err := ExecutionLayers(plan)

	assert.Error(t, err)
}

func TestExecutionOrderRespectsDependencies(t *testing.T) {
	plan := planOf(
		task("e", []string{"e.go"}, "c", "d"),
		task("c", []string{"c.go"}, "a"),
		task("d", []string{"d.go"}, "b"),
		task("a", []string{"a.go"}),
		task("b", []string{"b.go"}),
	)

	order, err := ExecutionOrder(plan)
	require.NoError(t, err)
	require.Len(t, order, 5)

	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}
	for _, tk := range plan.Tasks {
		for _, dep := range tk.Dependencies {
			assert.Less(t, position[dep], position[tk.ID],
				"task %s must appear after its dependency %s", tk.ID, dep)
		}
	}
}

func TestComputeMetricsCriticalPath(t *testing.T) {
	// Chain a(XS=1) -> b(XL=8) next to a lone c(M=3): path weight 9.
	a := task("a", []string{"a.go"})
	a.Complexity = models.ComplexityXS
	b := task("b", []string{"b.go"}, "a")
	b.Complexity = models.ComplexityXL
	c := task("c", []string{"c.go"})

	metrics, err := ComputeMetrics(planOf(a, b, c))

	require.NoError(t, err)
	assert.Equal(t, 12, metrics.EstimatedWork)
	assert.Equal(t, 9, metrics.CriticalPath)
}

func TestNoTwoTasksInSameLayerShareFiles(t *testing.T) {
	plan := planOf(
		task("root", []string{"shared.go"}),
		task("left", []string{"left.go"}, "root"),
		task("right", []string{"shared.go"}, "root", "left"),
	)

	report := ValidatePlan(plan)
	require.True(t, report.Valid)

	layers, err := ExecutionLayers(plan)
	require.NoError(t, err)

	byID := make(map[string]models.Task)
	for _, tk := range plan.Tasks {
		byID[tk.ID] = tk
	}
	for _, layer := range layers {
		owners := make(map[string]string)
		for _, id := range layer {
			for _, f := range byID[id].Files {
				if other, taken := owners[f]; taken {
					t.Errorf("layer holds %s and %s both touching %s", other, id, f)
				}
				owners[f] = id
			}
		}
	}
}
