package vcs

import (
	"context"
	"os/exec"
	"strings"
)

// StackedBackend layers parent-child branch tracking on top of the git
// backend via an external stacking CLI (Graphite-compatible). Branch
// creation with Track set registers the child relationship; Submit opens
// one review per branch in the stack.
type StackedBackend struct {
	*GitBackend

	// cli is the stacking tool binary, default "gt".
	cli    string
	runner CommandRunner
}

// NewStackedBackend creates a stacked backend around the real git and
// stacking binaries. An empty cli defaults to "gt".
func NewStackedBackend(cli string) *StackedBackend {
	if cli == "" {
		cli = "gt"
	}
	return &StackedBackend{
		GitBackend: NewGitBackend(),
		cli:        cli,
		runner:     defaultRunner,
	}
}

// NewStackedBackendWithRunner creates a stacked backend with an injected
// runner shared by git and the stacking CLI.
func NewStackedBackendWithRunner(cli string, runner CommandRunner) *StackedBackend {
	if cli == "" {
		cli = "gt"
	}
	return &StackedBackend{
		GitBackend: NewGitBackendWithRunner(runner),
		cli:        cli,
		runner:     runner,
	}
}

// Name implements Backend.
func (s *StackedBackend) Name() string { return "stacked" }

// IsAvailable implements Backend. Both git and the stacking CLI must be
// installed.
func (s *StackedBackend) IsAvailable() bool {
	if !s.GitBackend.IsAvailable() {
		return false
	}
	_, err := exec.LookPath(s.cli)
	return err == nil
}

func (s *StackedBackend) stack(ctx context.Context, workdir string, args ...string) (string, error) {
	out, err := s.runner(ctx, workdir, s.cli, args...)
	if err != nil {
		return out, &CommandError{
			Command: s.cli + " " + strings.Join(args, " "),
			Output:  out,
			Err:     err,
		}
	}
	return out, nil
}

// CreateBranch implements Backend. After the branch exists, Parent with
// Track set registers it as a stack child.
func (s *StackedBackend) CreateBranch(ctx context.Context, name string, opts BranchOptions, workdir string) error {
	if err := s.GitBackend.CreateBranch(ctx, name, opts, workdir); err != nil {
		return err
	}
	if opts.Track && opts.Parent != "" {
		return s.TrackBranch(ctx, name, opts.Parent, workdir)
	}
	return nil
}

// TrackBranch implements StackingBackend.
func (s *StackedBackend) TrackBranch(ctx context.Context, branch, parent, workdir string) error {
	_, err := s.stack(ctx, workdir, "track", branch, "--parent", parent)
	return err
}

// Restack implements StackingBackend.
func (s *StackedBackend) Restack(ctx context.Context, workdir string) error {
	_, err := s.stack(ctx, workdir, "restack")
	return err
}

// GetStackInfo implements StackingBackend. The CLI prints one branch per
// line, children indented under parents.
func (s *StackedBackend) GetStackInfo(ctx context.Context, workdir string) (*StackInfo, error) {
	out, err := s.stack(ctx, workdir, "log", "short")
	if err != nil {
		return nil, err
	}

	info := &StackInfo{}
	var parent string
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimLeft(strings.TrimSpace(line), "◯◉│ ")
		if name == "" {
			continue
		}
		info.Branches = append(info.Branches, StackBranch{Name: name, Parent: parent})
		parent = name
	}
	return info, nil
}

// Submit implements Backend, opening one review per branch via the
// stacking CLI and returning the review URLs it prints.
func (s *StackedBackend) Submit(ctx context.Context, opts SubmitOptions, workdir string) ([]string, error) {
	args := []string{"submit", "--stack"}
	if opts.Draft {
		args = append(args, "--draft")
	}
	args = append(args, opts.ExtraArgs...)

	out, err := s.stack(ctx, workdir, args...)
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, line := range strings.Split(out, "\n") {
		for _, field := range strings.Fields(line) {
			if strings.HasPrefix(field, "https://") {
				urls = append(urls, field)
			}
		}
	}
	return urls, nil
}
