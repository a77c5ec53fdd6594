package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes one VCS command in workdir and returns its
// combined output. Injectable so tests can script command behaviour
// without a repository.
type CommandRunner func(ctx context.Context, workdir, name string, args ...string) (string, error)

func defaultRunner(ctx context.Context, workdir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workdir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// WorktreeEntry is one record from the porcelain worktree listing.
type WorktreeEntry struct {
	Path   string
	Head   string
	Branch string
}

// GitBackend is the merge-commit backend, shelling out to the git CLI.
type GitBackend struct {
	runner CommandRunner
}

// NewGitBackend creates a backend using the real git binary.
func NewGitBackend() *GitBackend {
	return &GitBackend{runner: defaultRunner}
}

// NewGitBackendWithRunner creates a backend with an injected runner.
func NewGitBackendWithRunner(runner CommandRunner) *GitBackend {
	return &GitBackend{runner: runner}
}

// Name implements Backend.
func (g *GitBackend) Name() string { return "merge-commit" }

// IsAvailable implements Backend.
func (g *GitBackend) IsAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// git runs one git command, wrapping failures in a CommandError.
func (g *GitBackend) git(ctx context.Context, workdir string, args ...string) (string, error) {
	out, err := g.runner(ctx, workdir, "git", args...)
	if err != nil {
		return out, &CommandError{
			Command: "git " + strings.Join(args, " "),
			Output:  out,
			Err:     err,
		}
	}
	return out, nil
}

// Initialize implements Backend. It verifies workdir is inside a
// repository and, when trunk is given, that the ref resolves. Calling it
// again is a no-op.
func (g *GitBackend) Initialize(ctx context.Context, workdir, trunk string) error {
	if _, err := g.git(ctx, workdir, "rev-parse", "--git-dir"); err != nil {
		return fmt.Errorf("not a git repository: %w", err)
	}
	if trunk != "" {
		if _, err := g.git(ctx, workdir, "rev-parse", "--verify", trunk); err != nil {
			return fmt.Errorf("trunk ref %q does not exist: %w", trunk, err)
		}
	}
	return nil
}

// CreateBranch implements Backend. Start point precedence: Base, Parent,
// HEAD. Track is ignored; the merge-commit backend has no stack registry.
func (g *GitBackend) CreateBranch(ctx context.Context, name string, opts BranchOptions, workdir string) error {
	start := opts.Base
	if start == "" {
		start = opts.Parent
	}
	args := []string{"branch", name}
	if start != "" {
		args = append(args, start)
	}
	_, err := g.git(ctx, workdir, args...)
	return err
}

// DeleteBranch implements Backend.
func (g *GitBackend) DeleteBranch(ctx context.Context, name, workdir string) error {
	_, err := g.git(ctx, workdir, "branch", "-D", name)
	return err
}

// Checkout implements Backend.
func (g *GitBackend) Checkout(ctx context.Context, ref, workdir string) error {
	_, err := g.git(ctx, workdir, "checkout", ref)
	return err
}

// Commit implements Backend. Files are staged explicitly when given,
// otherwise every modification is staged. Returns the new HEAD hash.
func (g *GitBackend) Commit(ctx context.Context, message, workdir string, opts CommitOptions) (string, error) {
	if len(opts.Files) > 0 {
		addArgs := append([]string{"add", "--"}, opts.Files...)
		if _, err := g.git(ctx, workdir, addArgs...); err != nil {
			return "", err
		}
	} else {
		if _, err := g.git(ctx, workdir, "add", "-A"); err != nil {
			return "", err
		}
	}

	commitArgs := []string{"commit", "-m", message}
	if opts.AllowEmpty {
		commitArgs = append(commitArgs, "--allow-empty")
	}
	if _, err := g.git(ctx, workdir, commitArgs...); err != nil {
		return "", err
	}

	hash, err := g.git(ctx, workdir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hash), nil
}

// CherryPick implements Backend.
func (g *GitBackend) CherryPick(ctx context.Context, commit, workdir string) error {
	_, err := g.git(ctx, workdir, "cherry-pick", commit)
	return err
}

// Merge implements Backend.
func (g *GitBackend) Merge(ctx context.Context, ref, message, workdir string) error {
	_, err := g.git(ctx, workdir, "merge", "--no-ff", "-m", message, ref)
	return err
}

// Submit implements Backend. Plain git has no review integration.
func (g *GitBackend) Submit(ctx context.Context, opts SubmitOptions, workdir string) ([]string, error) {
	return nil, nil
}

// HasConflicts implements Backend.
func (g *GitBackend) HasConflicts(ctx context.Context, workdir string) (bool, error) {
	files, err := g.GetConflictedFiles(ctx, workdir)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// GetConflictedFiles implements Backend.
func (g *GitBackend) GetConflictedFiles(ctx context.Context, workdir string) ([]string, error) {
	out, err := g.git(ctx, workdir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// AbortMerge implements Backend. A conflicted cherry-pick has no merge in
// progress, so the cherry-pick abort is tried as a fallback.
func (g *GitBackend) AbortMerge(ctx context.Context, workdir string) error {
	if _, err := g.git(ctx, workdir, "merge", "--abort"); err == nil {
		return nil
	}
	_, err := g.git(ctx, workdir, "cherry-pick", "--abort")
	return err
}

// BranchExists reports whether a local branch with the given name exists.
func (g *GitBackend) BranchExists(ctx context.Context, name, workdir string) bool {
	_, err := g.git(ctx, workdir, "rev-parse", "--verify", "refs/heads/"+name)
	return err == nil
}

// ResolveRef returns the commit hash a ref points at.
func (g *GitBackend) ResolveRef(ctx context.Context, ref, workdir string) (string, error) {
	out, err := g.git(ctx, workdir, "rev-parse", "--verify", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// WorktreeAdd creates a worktree at path on a new branch started at
// baseRef.
func (g *GitBackend) WorktreeAdd(ctx context.Context, workdir, path, branch, baseRef string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if baseRef != "" {
		args = append(args, baseRef)
	}
	_, err := g.git(ctx, workdir, args...)
	return err
}

// WorktreeRemove removes the worktree at path.
func (g *GitBackend) WorktreeRemove(ctx context.Context, workdir, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := g.git(ctx, workdir, args...)
	return err
}

// WorktreeList parses `git worktree list --porcelain`: records separated
// by blank lines, each carrying worktree, HEAD and branch fields.
func (g *GitBackend) WorktreeList(ctx context.Context, workdir string) ([]WorktreeEntry, error) {
	out, err := g.git(ctx, workdir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var entries []WorktreeEntry
	var current WorktreeEntry
	flush := func() {
		if current.Path != "" {
			entries = append(entries, current)
		}
		current = WorktreeEntry{}
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return entries, nil
}
