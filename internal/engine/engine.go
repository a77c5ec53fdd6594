// Package engine drives plan execution: it layers the task graph, stands
// up worktrees, dispatches tasks through the orchestrator with bounded
// concurrency, applies the retry and skip policies, and assembles the
// resulting commits into a stack after each layer.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chopstack/chopstack/internal/bus"
	"github.com/chopstack/chopstack/internal/models"
	"github.com/chopstack/chopstack/internal/orchestrator"
	"github.com/chopstack/chopstack/internal/validator"
	"github.com/chopstack/chopstack/internal/vcs"
)

// VCS is the slice of the version-control engine the scheduler needs.
// *vcs.Engine satisfies it.
type VCS interface {
	CreateWorktreesForTasks(ctx context.Context, tasks []models.Task, baseRef string) ([]models.WorktreeContext, error)
	CleanupWorktrees(ctx context.Context, contexts []models.WorktreeContext, keepBranch bool) error
	CommitTask(ctx context.Context, task *models.Task, wt models.WorktreeContext, filesChanged []string) (string, error)
	BuildStackFromTasks(ctx context.Context, tasks []*models.Task, opts vcs.StackOptions) (*vcs.StackBuildResult, error)
	SubmitStack(ctx context.Context, branches []string, draft, autoMerge bool) ([]string, error)
}

// TaskRunner dispatches individual tasks. *orchestrator.Orchestrator
// satisfies it. Cancellation reaches running tasks through the context
// passed to ExecuteTask; the engine never cancels by task id.
type TaskRunner interface {
	ExecuteTask(ctx context.Context, req orchestrator.TaskRequest) orchestrator.TaskResult
}

// Options controls one execution run.
type Options struct {
	// Mode selects full execution, or validate, which marks every task
	// successful with zero duration and touches nothing.
	Mode models.PlanMode

	// TrunkRef is the integration ref the first layer bases on.
	TrunkRef string

	// MaxConcurrency caps concurrent tasks within a layer. Zero means
	// the layer width is the only bound.
	MaxConcurrency int

	// ContinueOnError keeps later layers running after a permanent task
	// failure instead of halting the engine.
	ContinueOnError bool

	// DryRun behaves like validate mode regardless of Mode.
	DryRun bool

	CleanupOnSuccess bool
	CleanupOnFailure bool

	SubmitStack bool
	Draft       bool
	AutoMerge   bool
}

// Engine schedules a validated plan across its execution layers.
type Engine struct {
	vcs    VCS
	runner TaskRunner
	events *bus.Bus
}

// New creates an execution engine.
func New(vcsEngine VCS, runner TaskRunner, events *bus.Bus) *Engine {
	return &Engine{vcs: vcsEngine, runner: runner, events: events}
}

// layerOutcome is one task's result within a layer, produced by a worker.
type layerOutcome struct {
	task      *models.Task
	result    models.TaskResult
	cancelled bool
}

// Execute runs the plan and returns the aggregated result. Validation
// failures and config errors return an error with no side effects; task
// failures are reported through the result.
func (e *Engine) Execute(ctx context.Context, plan *models.Plan, opts Options) (*models.ExecutionResult, error) {
	start := time.Now()

	report := validator.ValidatePlan(plan)
	if !report.Valid {
		return nil, fmt.Errorf("plan validation failed: %s", summarizeReport(report))
	}
	layers, err := validator.ExecutionLayers(plan)
	if err != nil {
		return nil, err
	}
	metrics, err := validator.ComputeMetrics(plan)
	if err != nil {
		return nil, err
	}

	e.events.Publish(bus.LogEvent{
		Level:   bus.LevelInfo,
		Message: "plan:summary",
		Metadata: map[string]any{
			"plan":               plan.Name,
			"tasks":              metrics.TaskCount,
			"layers":             metrics.ExecutionLayers,
			"maxParallelization": metrics.MaxParallelization,
			"estimatedWork":      metrics.EstimatedWork,
		},
	})

	byID := make(map[string]*models.Task, len(plan.Tasks))
	dependents := make(map[string][]string)
	for i := range plan.Tasks {
		task := &plan.Tasks[i]
		byID[task.ID] = task
		for _, dep := range task.Dependencies {
			dependents[dep] = append(dependents[dep], task.ID)
		}
	}

	results := make(map[string]models.TaskResult, len(plan.Tasks))
	integrationRef := opts.TrunkRef
	if integrationRef == "" {
		integrationRef = "HEAD"
	}

	var allBranches, allCommits []string
	halted := false

	for _, layer := range layers {
		if halted {
			break
		}
		if ctx.Err() != nil {
			e.markCancelledRemaining(byID, results)
			break
		}

		runnable := e.partitionLayer(layer, byID, results)
		if len(runnable) == 0 {
			continue
		}

		if opts.Mode == models.ModeValidate || opts.DryRun {
			for _, task := range runnable {
				task.Transition(models.TaskCompleted, "validate mode")
				results[task.ID] = models.TaskResult{TaskID: task.ID, Status: models.StatusSuccess}
			}
			continue
		}

		outcomes, contexts := e.runLayer(ctx, runnable, integrationRef, opts, byID, dependents, results)

		// Worktree teardown is governed per outcome; branches always
		// survive until stack assembly has consumed them.
		e.cleanupLayer(ctx, outcomes, contexts, opts)

		outcomeByID := make(map[string]layerOutcome, len(outcomes))
		for _, outcome := range outcomes {
			outcomeByID[outcome.task.ID] = outcome
			results[outcome.task.ID] = outcome.result
		}

		// Successes are collected in layer order so stack assembly stays
		// topological regardless of completion order.
		var layerSuccesses []*models.Task
		permanentFailure := false
		for _, task := range runnable {
			outcome, ok := outcomeByID[task.ID]
			if !ok {
				continue
			}
			switch {
			case outcome.result.Status == models.StatusSuccess:
				layerSuccesses = append(layerSuccesses, outcome.task)
			case outcome.cancelled:
				// Cancellation is not a policy failure; no skips.
			default:
				permanentFailure = true
				e.skipDependents(outcome.task.ID, byID, dependents, results)
			}
		}

		if len(layerSuccesses) > 0 {
			stack, stackErr := e.vcs.BuildStackFromTasks(ctx, layerSuccesses, vcs.StackOptions{
				ParentRef: integrationRef,
			})
			allBranches = append(allBranches, stack.Branches...)
			for _, task := range layerSuccesses {
				if task.CommitHash != "" {
					allCommits = append(allCommits, task.CommitHash)
				}
			}
			if stackErr != nil {
				permanentFailure = true
				e.failConflictedTasks(stack, layerSuccesses, byID, dependents, results, stackErr)
			}
			if stack.TipRef != "" {
				integrationRef = stack.TipRef
			}
		}

		if ctx.Err() != nil {
			e.markCancelledRemaining(byID, results)
			break
		}
		if permanentFailure && !opts.ContinueOnError {
			halted = true
		}
	}

	// Anything the halt left untouched is skipped, not silently absent.
	for id, task := range byID {
		if _, ok := results[id]; !ok {
			task.Transition(models.TaskSkipped, "engine halted")
			results[id] = models.TaskResult{TaskID: id, Status: models.StatusSkipped, Error: "engine halted"}
		}
	}

	result := &models.ExecutionResult{
		TotalDuration: time.Since(start),
		Branches:      allBranches,
		Commits:       allCommits,
	}
	for i := range plan.Tasks {
		result.Tasks = append(result.Tasks, results[plan.Tasks[i].ID])
	}

	if opts.SubmitStack && len(allBranches) > 0 && opts.Mode != models.ModeValidate && !opts.DryRun {
		urls, submitErr := e.vcs.SubmitStack(ctx, allBranches, opts.Draft, opts.AutoMerge)
		if submitErr != nil {
			e.events.Publish(bus.LogEvent{
				Level:   bus.LevelWarn,
				Message: fmt.Sprintf("stack submission failed: %v", submitErr),
			})
		} else {
			result.PRURLs = urls
		}
	}

	e.events.Publish(bus.LogEvent{
		Level:   bus.LevelInfo,
		Message: "execution:done",
		Metadata: map[string]any{
			"succeeded": result.Succeeded(),
			"failed":    result.Failed(),
			"skipped":   result.Skipped(),
			"duration":  result.TotalDuration.String(),
		},
	})
	return result, nil
}

// partitionLayer returns the layer's tasks that are still eligible to run,
// recording results for ones already skipped by an earlier failure.
func (e *Engine) partitionLayer(layer []string, byID map[string]*models.Task, results map[string]models.TaskResult) []*models.Task {
	var runnable []*models.Task
	for _, id := range layer {
		if _, done := results[id]; done {
			continue
		}
		task := byID[id]
		if task.State == models.TaskSkipped {
			results[id] = models.TaskResult{TaskID: id, Status: models.StatusSkipped}
			continue
		}
		runnable = append(runnable, task)
	}
	return runnable
}

// runLayer creates worktrees for the layer and executes its tasks
// concurrently, bounded by opts.MaxConcurrency. It returns one outcome per
// task plus the worktree contexts that were created.
func (e *Engine) runLayer(
	ctx context.Context,
	runnable []*models.Task,
	integrationRef string,
	opts Options,
	byID map[string]*models.Task,
	dependents map[string][]string,
	results map[string]models.TaskResult,
) ([]layerOutcome, map[string]models.WorktreeContext) {
	taskValues := make([]models.Task, len(runnable))
	for i, t := range runnable {
		taskValues[i] = *t
	}

	contexts := make(map[string]models.WorktreeContext)
	created, wtErr := e.vcs.CreateWorktreesForTasks(ctx, taskValues, integrationRef)
	for _, wc := range created {
		contexts[wc.TaskID] = wc
	}

	var outcomes []layerOutcome
	var dispatch []*models.Task
	for _, task := range runnable {
		if _, ok := contexts[task.ID]; ok {
			dispatch = append(dispatch, task)
			continue
		}
		// Infrastructure failure: task-fatal, never retried.
		errText := "worktree creation failed"
		if wtErr != nil {
			errText = wtErr.Error()
		}
		task.Transition(models.TaskFailed, errText)
		outcomes = append(outcomes, layerOutcome{
			task:   task,
			result: models.TaskResult{TaskID: task.ID, Status: models.StatusFailure, Error: errText},
		})
	}
	if len(dispatch) == 0 {
		return outcomes, contexts
	}

	limit := len(dispatch)
	if opts.MaxConcurrency > 0 && opts.MaxConcurrency < limit {
		limit = opts.MaxConcurrency
	}
	sem := make(chan struct{}, limit)
	outcomeCh := make(chan layerOutcome, len(dispatch))

	for _, task := range dispatch {
		task := task
		wt := contexts[task.ID]
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomeCh <- e.runTask(ctx, task, wt)
		}()
	}
	for range dispatch {
		outcomes = append(outcomes, <-outcomeCh)
	}
	return outcomes, contexts
}

// runTask drives one task through its attempts: execute, commit, and on
// failure retry with an enriched prompt while budget remains.
func (e *Engine) runTask(ctx context.Context, task *models.Task, wt models.WorktreeContext) layerOutcome {
	task.Transition(models.TaskRunning, "")
	basePrompt := BuildTaskPrompt(*task)
	prompt := basePrompt
	started := time.Now()
	attempts := 0

	for {
		attempts++
		res := e.runner.ExecuteTask(ctx, orchestrator.TaskRequest{
			TaskID:  task.ID,
			Title:   task.Name,
			Prompt:  prompt,
			Files:   task.Files,
			Workdir: wt.AbsolutePath,
			Context: &wt,
		})

		var failure string
		var hint string
		if res.Status == models.StatusSuccess {
			if _, err := e.vcs.CommitTask(ctx, task, wt, res.FilesChanged); err != nil {
				failure = err.Error()
				hint = "previous attempt failed during commit integration"
			} else {
				task.Transition(models.TaskCompleted, "")
				return layerOutcome{task: task, result: models.TaskResult{
					TaskID:       task.ID,
					Status:       models.StatusSuccess,
					Duration:     time.Since(started),
					CommitHash:   task.CommitHash,
					FilesChanged: res.FilesChanged,
					Attempts:     attempts,
				}}
			}
		} else {
			failure = res.Error
			hint = "previous attempt failed during agent execution"
		}

		if res.Cancelled {
			task.Transition(models.TaskCancelled, orchestrator.CancelledReason)
			return layerOutcome{task: task, cancelled: true, result: models.TaskResult{
				TaskID:   task.ID,
				Status:   models.StatusCancelled,
				Duration: time.Since(started),
				Error:    orchestrator.CancelledReason,
				Attempts: attempts,
			}}
		}

		if task.RetryCount < task.MaxRetries {
			task.RetryCount++
			prompt = BuildRetryPrompt(basePrompt, failure, res.FilesChanged, hint)
			e.events.Publish(bus.LogEvent{
				Level:   bus.LevelWarn,
				Message: fmt.Sprintf("retrying task %s (attempt %d of %d)", task.ID, attempts+1, task.MaxRetries+1),
				Metadata: map[string]any{
					"task":  task.ID,
					"error": failure,
				},
			})
			continue
		}

		task.Transition(models.TaskFailed, failure)
		return layerOutcome{task: task, result: models.TaskResult{
			TaskID:   task.ID,
			Status:   models.StatusFailure,
			Duration: time.Since(started),
			Error:    failure,
			Attempts: attempts,
		}}
	}
}

// cleanupLayer removes worktrees per the cleanup policy. Branches are
// always kept here; stack assembly owns their fate.
func (e *Engine) cleanupLayer(ctx context.Context, outcomes []layerOutcome, contexts map[string]models.WorktreeContext, opts Options) {
	var toClean []models.WorktreeContext
	for _, outcome := range outcomes {
		wc, ok := contexts[outcome.task.ID]
		if !ok {
			continue
		}
		succeeded := outcome.result.Status == models.StatusSuccess
		if (succeeded && opts.CleanupOnSuccess) || (!succeeded && opts.CleanupOnFailure) {
			toClean = append(toClean, wc)
		}
	}
	if len(toClean) == 0 {
		return
	}
	if err := e.vcs.CleanupWorktrees(ctx, toClean, true); err != nil {
		e.events.Publish(bus.LogEvent{
			Level:   bus.LevelWarn,
			Message: fmt.Sprintf("worktree cleanup failed: %v", err),
		})
	}
}

// skipDependents marks every transitive dependent of failedID skipped.
func (e *Engine) skipDependents(failedID string, byID map[string]*models.Task, dependents map[string][]string, results map[string]models.TaskResult) {
	queue := append([]string{}, dependents[failedID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, done := results[id]; done {
			continue
		}
		task := byID[id]
		if task.State == models.TaskSkipped {
			continue
		}
		task.Transition(models.TaskSkipped, fmt.Sprintf("dependency %s failed", failedID))
		queue = append(queue, dependents[id]...)
	}
}

// failConflictedTasks attributes an unresolved stack-assembly conflict to
// the task owning the conflicting branch.
func (e *Engine) failConflictedTasks(stack *vcs.StackBuildResult, layerSuccesses []*models.Task, byID map[string]*models.Task, dependents map[string][]string, results map[string]models.TaskResult, stackErr error) {
	if len(stack.Conflicts) == 0 {
		return
	}
	conflict := stack.Conflicts[len(stack.Conflicts)-1]
	for _, task := range layerSuccesses {
		if task.BranchName != conflict.Branch {
			continue
		}
		errText := fmt.Sprintf("integration conflict in %s: %v", strings.Join(conflict.Files, ", "), stackErr)
		task.Transition(models.TaskFailed, errText)
		results[task.ID] = models.TaskResult{
			TaskID:     task.ID,
			Status:     models.StatusFailure,
			Error:      errText,
			CommitHash: task.CommitHash,
		}
		e.skipDependents(task.ID, byID, dependents, results)
		return
	}
}

// markCancelledRemaining records a cancelled result for every task that
// has none yet.
func (e *Engine) markCancelledRemaining(byID map[string]*models.Task, results map[string]models.TaskResult) {
	for id, task := range byID {
		if _, ok := results[id]; ok {
			continue
		}
		if !task.State.Terminal() {
			task.Transition(models.TaskCancelled, orchestrator.CancelledReason)
		}
		results[id] = models.TaskResult{TaskID: id, Status: models.StatusCancelled, Error: orchestrator.CancelledReason}
	}
}

func summarizeReport(report *validator.Report) string {
	var parts []string
	parts = append(parts, report.Errors...)
	for _, cycle := range report.CircularDependencies {
		parts = append(parts, "cycle: "+strings.Join(cycle, " -> "))
	}
	for _, missing := range report.MissingDependencies {
		parts = append(parts, "missing dependency: "+missing)
	}
	parts = append(parts, report.Conflicts...)
	return strings.Join(parts, "; ")
}
