package vcs

import (
	"context"
	"fmt"

	"github.com/chopstack/chopstack/internal/bus"
	"github.com/chopstack/chopstack/internal/models"
)

// ConflictRecord describes one integration conflict encountered during
// stack assembly, with any resolutions that were applied.
type ConflictRecord struct {
	Branch      string
	Files       []string
	Resolved    bool
	Resolutions []Resolution
}

// StackOptions controls one stack-assembly pass.
type StackOptions struct {
	// ParentRef is the integration ref the stack grows from.
	ParentRef string

	// SubmitStack opens reviews for the assembled branches when the
	// backend supports submission.
	SubmitStack bool
	Draft       bool
	AutoMerge   bool
}

// StackBuildResult is the outcome of one stack-assembly pass.
type StackBuildResult struct {
	Branches  []string
	PRURLs    []string
	Conflicts []ConflictRecord

	// TipRef is the ref the next layer's worktrees should base on: the
	// last stack branch in stacked mode, ParentRef itself in merge-commit
	// mode.
	TipRef string
}

// Engine owns worktree discipline, commit integration and stack assembly
// on top of a pluggable backend.
type Engine struct {
	backend   Backend
	worktrees *WorktreeManager
	events    *bus.Bus
	strategy  ConflictStrategy

	branchPrefix string
	repoRoot     string
}

// NewEngine creates a VCS engine. repoRoot is the primary checkout the
// worktrees and stack branches are managed from.
func NewEngine(backend Backend, worktrees *WorktreeManager, events *bus.Bus, strategy ConflictStrategy, branchPrefix, repoRoot string) *Engine {
	if branchPrefix == "" {
		branchPrefix = "chopstack/"
	}
	if !strategy.Valid() {
		strategy = ConflictAuto
	}
	return &Engine{
		backend:      backend,
		worktrees:    worktrees,
		events:       events,
		strategy:     strategy,
		branchPrefix: branchPrefix,
		repoRoot:     repoRoot,
	}
}

// Backend exposes the underlying backend for capability checks.
func (e *Engine) Backend() Backend { return e.backend }

// CreateWorktreesForTasks stands up worktrees for one execution layer.
func (e *Engine) CreateWorktreesForTasks(ctx context.Context, tasks []models.Task, baseRef string) ([]models.WorktreeContext, error) {
	return e.worktrees.CreateWorktreesForTasks(ctx, tasks, baseRef, e.repoRoot)
}

// CleanupWorktrees tears down worktrees. Branches are kept: the task
// commit lives on them until stack assembly recreates or merges them.
func (e *Engine) CleanupWorktrees(ctx context.Context, contexts []models.WorktreeContext, keepBranch bool) error {
	return e.worktrees.CleanupWorktrees(ctx, contexts, e.repoRoot, keepBranch)
}

// CommitTask commits the adapter's file changes inside the task's
// worktree and records the hash and branch on the task.
func (e *Engine) CommitTask(ctx context.Context, task *models.Task, wt models.WorktreeContext, filesChanged []string) (string, error) {
	message := BuildCommitMessage(*task)

	hash, err := e.backend.Commit(ctx, message, wt.AbsolutePath, CommitOptions{
		Files:     filesChanged,
		NoRestack: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit task %s: %w", task.ID, err)
	}

	task.CommitHash = hash
	task.BranchName = wt.BranchName
	task.WorktreePath = wt.WorktreePath

	e.events.Publish(bus.VCSCommitEvent{
		BranchName:   wt.BranchName,
		Message:      message,
		FilesChanged: filesChanged,
	})
	return hash, nil
}

// BuildStackFromTasks assembles the given completed tasks, already in
// topological order, into branches reachable from opts.ParentRef.
//
// Stacked mode chains a branch per task off the previous one with parent
// tracking and cherry-picks the task commit onto it. Merge-commit mode
// merges each task branch into ParentRef one at a time with a merge
// commit, stopping at the first unresolved conflict.
func (e *Engine) BuildStackFromTasks(ctx context.Context, tasks []*models.Task, opts StackOptions) (*StackBuildResult, error) {
	result := &StackBuildResult{TipRef: opts.ParentRef}
	if len(tasks) == 0 {
		return result, nil
	}

	var err error
	if stacking, ok := e.backend.(StackingBackend); ok {
		err = e.assembleStacked(ctx, stacking, tasks, opts, result)
	} else {
		err = e.assembleMerge(ctx, tasks, opts, result)
	}
	if err != nil {
		return result, err
	}

	if opts.SubmitStack && len(result.Branches) > 0 {
		urls, submitErr := e.backend.Submit(ctx, SubmitOptions{
			Branches:  result.Branches,
			Draft:     opts.Draft,
			AutoMerge: opts.AutoMerge,
		}, e.repoRoot)
		if submitErr != nil {
			// Submission failure is non-fatal; the stack itself is built.
			e.events.Publish(bus.LogEvent{
				Level:   bus.LevelWarn,
				Message: fmt.Sprintf("stack submission failed: %v", submitErr),
			})
		} else {
			result.PRURLs = urls
		}
	}
	return result, nil
}

// SubmitStack opens reviews for an already-assembled set of branches.
// Used for the final submission after incremental per-layer assembly.
func (e *Engine) SubmitStack(ctx context.Context, branches []string, draft, autoMerge bool) ([]string, error) {
	if len(branches) == 0 {
		return nil, nil
	}
	return e.backend.Submit(ctx, SubmitOptions{
		Branches:  branches,
		Draft:     draft,
		AutoMerge: autoMerge,
	}, e.repoRoot)
}

// assembleStacked rebuilds each task branch as a child of the previous
// one and cherry-picks the task commit onto it.
func (e *Engine) assembleStacked(ctx context.Context, backend StackingBackend, tasks []*models.Task, opts StackOptions, result *StackBuildResult) error {
	parent := opts.ParentRef
	for _, task := range tasks {
		branch := task.BranchName
		if branch == "" {
			branch = e.branchPrefix + task.ID
		}

		// The worktree branch already points at the task commit; the
		// stack wants it re-rooted on the chain.
		if gb, ok := backend.(interface {
			BranchExists(ctx context.Context, name, workdir string) bool
		}); ok && gb.BranchExists(ctx, branch, e.repoRoot) {
			if err := backend.DeleteBranch(ctx, branch, e.repoRoot); err != nil {
				return fmt.Errorf("failed to reset branch %s: %w", branch, err)
			}
		}

		if err := backend.CreateBranch(ctx, branch, BranchOptions{Parent: parent, Track: true}, e.repoRoot); err != nil {
			return fmt.Errorf("failed to create stack branch %s: %w", branch, err)
		}
		e.events.Publish(bus.VCSBranchCreatedEvent{BranchName: branch, ParentBranch: parent})

		if err := backend.Checkout(ctx, branch, e.repoRoot); err != nil {
			return err
		}

		if err := backend.CherryPick(ctx, task.CommitHash, e.repoRoot); err != nil {
			record, handled := e.handleConflict(ctx, branch, task, "cherry-pick")
			result.Conflicts = append(result.Conflicts, record)
			if !handled {
				return fmt.Errorf("cherry-pick conflict on %s: %w", branch, err)
			}
		}

		result.Branches = append(result.Branches, branch)
		parent = branch
		result.TipRef = branch
	}
	return nil
}

// assembleMerge merges each task branch into the integration ref in order.
func (e *Engine) assembleMerge(ctx context.Context, tasks []*models.Task, opts StackOptions, result *StackBuildResult) error {
	if err := e.backend.Checkout(ctx, opts.ParentRef, e.repoRoot); err != nil {
		return fmt.Errorf("failed to check out integration ref %s: %w", opts.ParentRef, err)
	}

	for _, task := range tasks {
		branch := task.BranchName
		if branch == "" {
			branch = e.branchPrefix + task.ID
		}

		message := fmt.Sprintf("Merge branch '%s'", branch)
		if err := e.backend.Merge(ctx, branch, message, e.repoRoot); err != nil {
			record, handled := e.handleConflict(ctx, branch, task, "merge")
			result.Conflicts = append(result.Conflicts, record)
			if !handled {
				return fmt.Errorf("merge conflict on %s: %w", branch, err)
			}
		}

		result.Branches = append(result.Branches, branch)
	}
	result.TipRef = opts.ParentRef
	return nil
}

// handleConflict routes an integration conflict through the configured
// strategy. It returns the conflict record and whether integration of the
// branch completed.
func (e *Engine) handleConflict(ctx context.Context, branch string, task *models.Task, operation string) (ConflictRecord, bool) {
	record := ConflictRecord{Branch: branch}

	files, err := e.backend.GetConflictedFiles(ctx, e.repoRoot)
	if err == nil {
		record.Files = files
	}

	switch e.strategy {
	case ConflictFail:
		e.backend.AbortMerge(ctx, e.repoRoot)
		return record, false
	case ConflictManual:
		return record, false
	}

	resolutions, unresolved, err := ResolveConflictedFiles(e.repoRoot, record.Files, branch, e.branchPrefix)
	record.Resolutions = resolutions
	if err != nil || len(unresolved) > 0 {
		// Fall back to manual semantics: leave the tree conflicted.
		return record, false
	}

	message := BuildCommitMessage(*task)
	resolutionNotes := make([]string, len(resolutions))
	for i, r := range resolutions {
		resolutionNotes[i] = r.String()
	}

	// Committing the staged resolution concludes the merge or
	// cherry-pick.
	if _, err := e.backend.Commit(ctx, message, e.repoRoot, CommitOptions{Files: record.Files}); err != nil {
		e.events.Publish(bus.LogEvent{
			Level:   bus.LevelError,
			Message: fmt.Sprintf("failed to commit %s resolution on %s: %v", operation, branch, err),
		})
		return record, false
	}
	record.Resolved = true

	e.events.Publish(bus.VCSCommitEvent{
		BranchName:   branch,
		Message:      message,
		FilesChanged: record.Files,
		Resolutions:  resolutionNotes,
	})
	return record, true
}
