// Package vcs provides the version-control layer: a pluggable backend port
// with merge-commit and stacked variants, per-task worktree isolation, and
// the stack-assembly protocol that turns completed task commits into
// branches on the trunk.
package vcs

import (
	"context"
	"fmt"
	"strings"
)

// CommandError is returned when an underlying VCS command fails. It carries
// the attempted command line and the captured diagnostic output.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

// Error implements error.
func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, out)
}

// Unwrap supports errors.Is/As.
func (e *CommandError) Unwrap() error { return e.Err }

// BranchOptions controls branch creation. The start point precedence is
// Base, then Parent, then HEAD. Parent with Track set registers the new
// branch as a stack child on backends that support stacking.
type BranchOptions struct {
	Base   string
	Parent string
	Track  bool
}

// CommitOptions controls a commit. An empty Files stages every modified
// file in the working tree.
type CommitOptions struct {
	Files      []string
	AllowEmpty bool
	NoRestack  bool
}

// SubmitOptions describes a review submission for a set of branches.
type SubmitOptions struct {
	Branches  []string
	Draft     bool
	AutoMerge bool
	ExtraArgs []string
}

// StackBranch is one branch in a tracked stack.
type StackBranch struct {
	Name   string
	Parent string
}

// StackInfo describes the tracked stack rooted at the current branch.
type StackInfo struct {
	Branches []StackBranch
}

// Backend is the port every version-control variant implements. All
// operations run against the given working directory; failures surface as
// a *CommandError.
type Backend interface {
	// Name identifies the backend mode, e.g. "merge-commit" or "stacked".
	Name() string

	// IsAvailable probes whether the underlying tool is installed.
	IsAvailable() bool

	// Initialize performs idempotent setup in workdir. trunk, when
	// non-empty, is verified to exist.
	Initialize(ctx context.Context, workdir, trunk string) error

	// CreateBranch creates a branch per opts without checking it out.
	CreateBranch(ctx context.Context, name string, opts BranchOptions, workdir string) error

	// DeleteBranch force-deletes a branch.
	DeleteBranch(ctx context.Context, name, workdir string) error

	// Checkout switches the working tree to ref.
	Checkout(ctx context.Context, ref, workdir string) error

	// Commit stages per opts and commits, returning the commit hash.
	// During a conflicted merge or cherry-pick, staging the resolved
	// files and committing concludes the operation.
	Commit(ctx context.Context, message, workdir string, opts CommitOptions) (string, error)

	// CherryPick applies the given commit onto the current branch. A
	// conflict surfaces as an error; HasConflicts reports the tree state.
	CherryPick(ctx context.Context, commit, workdir string) error

	// Merge merges ref into the current branch with a merge commit even
	// when fast-forward is possible.
	Merge(ctx context.Context, ref, message, workdir string) error

	// Submit opens reviews for the given branches. Backends without a
	// review integration return an empty list.
	Submit(ctx context.Context, opts SubmitOptions, workdir string) ([]string, error)

	// HasConflicts reports whether the working tree has unmerged paths.
	HasConflicts(ctx context.Context, workdir string) (bool, error)

	// GetConflictedFiles lists paths with unresolved conflicts.
	GetConflictedFiles(ctx context.Context, workdir string) ([]string, error)

	// AbortMerge abandons an in-progress merge or cherry-pick.
	AbortMerge(ctx context.Context, workdir string) error
}

// StackingBackend is the capability interface for backends that track
// parent-child branch relationships. Callers must type-assert before use.
type StackingBackend interface {
	Backend

	// TrackBranch registers branch as a stack child of parent.
	TrackBranch(ctx context.Context, branch, parent, workdir string) error

	// Restack rebases the tracked stack onto its parents.
	Restack(ctx context.Context, workdir string) error

	// GetStackInfo returns the tracked stack for the current branch.
	GetStackInfo(ctx context.Context, workdir string) (*StackInfo, error)
}
