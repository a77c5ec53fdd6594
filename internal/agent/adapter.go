// Package agent defines the execution-adapter contract the orchestrator
// consumes and provides the Claude CLI adapter. An adapter is an opaque
// subprocess invocation that streams structured events and reports a final
// file-change set; chopstack never looks inside it.
package agent

import (
	"context"

	"github.com/chopstack/chopstack/internal/models"
)

// Request describes one adapter invocation.
type Request struct {
	// TaskID tags the event stream.
	TaskID string

	// Prompt is the full task prompt. Adapters read it from standard
	// input to accommodate large prompts.
	Prompt string

	// Workdir is the worktree the subprocess runs in. All file changes
	// must land inside it.
	Workdir string

	// Files is the set of paths the task is permitted to touch.
	Files []string
}

// Result is the final outcome of an adapter invocation.
type Result struct {
	ExitCode     int
	FilesChanged []string
	Stderr       string
}

// Adapter is a pluggable coding-agent integration. Execute blocks until the
// subprocess exits, sending each streamed record to events as it arrives.
// The events channel is closed by Execute before returning. Cancelling the
// context must terminate the subprocess.
type Adapter interface {
	// Name identifies the adapter, e.g. "claude".
	Name() string

	// IsAvailable probes whether the underlying tool is installed.
	IsAvailable() bool

	// Execute runs the agent in req.Workdir and returns its final result.
	// A non-nil error means the adapter itself could not run; an agent
	// that ran and failed is reported through Result.ExitCode.
	Execute(ctx context.Context, req Request, events chan<- models.StreamEvent) (*Result, error)
}
