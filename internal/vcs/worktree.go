package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chopstack/chopstack/internal/models"
)

// WorktreeGit is the slice of git operations the worktree manager needs.
// *GitBackend satisfies it; tests substitute fakes.
type WorktreeGit interface {
	WorktreeAdd(ctx context.Context, workdir, path, branch, baseRef string) error
	WorktreeRemove(ctx context.Context, workdir, path string, force bool) error
	BranchExists(ctx context.Context, name, workdir string) bool
	DeleteBranch(ctx context.Context, name, workdir string) error
}

// WorktreeManager owns the per-task isolation discipline: every task gets
// a worktree at <repoRoot>/<shadowPath>/<taskId> on a branch named
// <branchPrefix><taskId>.
type WorktreeManager struct {
	git          WorktreeGit
	branchPrefix string
	shadowPath   string
}

// NewWorktreeManager creates a manager. Empty prefix and shadow path fall
// back to the chopstack defaults.
func NewWorktreeManager(git WorktreeGit, branchPrefix, shadowPath string) *WorktreeManager {
	if branchPrefix == "" {
		branchPrefix = "chopstack/"
	}
	if shadowPath == "" {
		shadowPath = filepath.Join(".chopstack", "shadows")
	}
	return &WorktreeManager{git: git, branchPrefix: branchPrefix, shadowPath: shadowPath}
}

// BranchName returns the branch a task's worktree runs on.
func (m *WorktreeManager) BranchName(taskID string) string {
	return m.branchPrefix + taskID
}

// WorktreePath returns the worktree root for a task, relative to the
// repository root.
func (m *WorktreeManager) WorktreePath(taskID string) string {
	return filepath.Join(m.shadowPath, taskID)
}

// CreateWorktreesForTasks stands up one worktree per task from baseRef and
// returns the contexts in task order. A leftover branch or directory from
// a crashed run is reported as a collision carrying the exact cleanup
// command to run; nothing is removed implicitly.
func (m *WorktreeManager) CreateWorktreesForTasks(ctx context.Context, tasks []models.Task, baseRef, repoRoot string) ([]models.WorktreeContext, error) {
	contexts := make([]models.WorktreeContext, 0, len(tasks))
	for _, task := range tasks {
		branch := m.BranchName(task.ID)
		relPath := m.WorktreePath(task.ID)
		absPath := filepath.Join(repoRoot, relPath)

		if m.git.BranchExists(ctx, branch, repoRoot) {
			return contexts, fmt.Errorf(
				"branch %s already exists (leftover from a previous run?); clean up with: git worktree remove --force %s && git branch -D %s",
				branch, absPath, branch)
		}
		if _, err := os.Stat(absPath); err == nil {
			return contexts, fmt.Errorf(
				"worktree directory %s already exists; clean up with: git worktree remove --force %s",
				absPath, absPath)
		}

		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return contexts, fmt.Errorf("failed to create shadow directory: %w", err)
		}
		if err := m.git.WorktreeAdd(ctx, repoRoot, absPath, branch, baseRef); err != nil {
			return contexts, fmt.Errorf("failed to create worktree for task %s: %w", task.ID, err)
		}

		contexts = append(contexts, models.WorktreeContext{
			TaskID:       task.ID,
			BranchName:   branch,
			WorktreePath: relPath,
			AbsolutePath: absPath,
			BaseRef:      baseRef,
			Created:      time.Now(),
		})
	}
	return contexts, nil
}

// CleanupWorktrees removes the worktree directories. Branch deletion is
// governed by keepBranch: stacked workflows keep branches for the stack,
// merge-commit runs delete them. Cleaning an already-cleaned context is a
// no-op, not an error.
func (m *WorktreeManager) CleanupWorktrees(ctx context.Context, contexts []models.WorktreeContext, repoRoot string, keepBranch bool) error {
	var firstErr error
	for _, wc := range contexts {
		if _, err := os.Stat(wc.AbsolutePath); err == nil {
			if err := m.git.WorktreeRemove(ctx, repoRoot, wc.AbsolutePath, true); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to remove worktree %s: %w", wc.AbsolutePath, err)
				}
				continue
			}
		}
		if !keepBranch && m.git.BranchExists(ctx, wc.BranchName, repoRoot) {
			if err := m.git.DeleteBranch(ctx, wc.BranchName, repoRoot); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to delete branch %s: %w", wc.BranchName, err)
			}
		}
	}
	return firstErr
}
