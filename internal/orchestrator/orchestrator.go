// Package orchestrator executes a single task through an execution adapter:
// it pipes the adapter's event stream onto the bus, enforces inactivity and
// wall-clock timeouts, and supports cancellation by task id. Scheduling
// across tasks belongs to the execution engine, not here.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chopstack/chopstack/internal/agent"
	"github.com/chopstack/chopstack/internal/bus"
	"github.com/chopstack/chopstack/internal/models"
)

// CancelledReason is the error text reported when a task is cancelled,
// either individually or through an engine-wide cancellation.
const CancelledReason = "cancelled"

// TaskRequest describes one task dispatch.
type TaskRequest struct {
	TaskID  string
	Title   string
	Prompt  string
	Files   []string
	Workdir string

	// Context is the worktree the task runs in, included in the
	// task:start event for consumers. May be nil in tests.
	Context *models.WorktreeContext
}

// TaskResult is the orchestrator's final verdict on one task dispatch.
type TaskResult struct {
	TaskID       string
	Status       models.TaskStatus // success or failure
	Duration     time.Duration
	Error        string
	FilesChanged []string
	Cancelled    bool
}

// Orchestrator dispatches tasks to an execution adapter. Multiple tasks may
// run simultaneously; each owns its adapter process, working directory and
// slice of the event stream.
type Orchestrator struct {
	adapter           agent.Adapter
	events            *bus.Bus
	wallTimeout       time.Duration
	inactivityTimeout time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates an orchestrator. Zero timeouts disable the corresponding
// limit.
func New(adapter agent.Adapter, events *bus.Bus, wallTimeout, inactivityTimeout time.Duration) *Orchestrator {
	if adapter == nil {
		panic("adapter cannot be nil")
	}
	if events == nil {
		panic("event bus cannot be nil")
	}
	return &Orchestrator{
		adapter:           adapter,
		events:            events,
		wallTimeout:       wallTimeout,
		inactivityTimeout: inactivityTimeout,
		running:           make(map[string]context.CancelFunc),
	}
}

// Cancel terminates the adapter subprocess of a single running task.
// Returns false if no task with that id is running.
func (o *Orchestrator) Cancel(taskID string) bool {
	o.mu.Lock()
	cancel, ok := o.running[taskID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// CancelAll cancels every running task concurrently. It returns
// immediately; each ExecuteTask call observes its own cancellation and
// returns after its subprocess exits.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(o.running))
	for _, cancel := range o.running {
		cancels = append(cancels, cancel)
	}
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// RunningCount returns the number of tasks currently executing.
func (o *Orchestrator) RunningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// ExecuteTask runs one task to completion and returns its result. Failures
// of any kind, including timeouts and cancellation, are reported through
// the result rather than an error so the engine's retry policy can see
// them uniformly.
func (o *Orchestrator) ExecuteTask(ctx context.Context, req TaskRequest) TaskResult {
	start := time.Now()

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.register(req.TaskID, cancel)
	defer o.unregister(req.TaskID)

	o.events.Publish(bus.TaskStartEvent{
		Task:    models.Task{ID: req.TaskID, Name: req.Title, Files: req.Files},
		Context: req.Context,
	})
	o.events.Publish(bus.TaskProgressEvent{TaskID: req.TaskID, Phase: bus.PhaseExecuting})

	stream := make(chan models.StreamEvent, 64)
	type adapterDone struct {
		result *agent.Result
		err    error
	}
	done := make(chan adapterDone, 1)
	go func() {
		result, err := o.adapter.Execute(taskCtx, agent.Request{
			TaskID:  req.TaskID,
			Prompt:  req.Prompt,
			Workdir: req.Workdir,
			Files:   req.Files,
		}, stream)
		done <- adapterDone{result: result, err: err}
	}()

	wall := newOptionalTimer(o.wallTimeout)
	defer wall.Stop()
	inactivity := newOptionalTimer(o.inactivityTimeout)
	defer inactivity.Stop()

	var timeoutReason string
	events := stream
	var outcome adapterDone
	var lastError string

	// taskCtx covers both parent-context cancellation and Cancel/CancelAll
	// by task id. Nilled after the first receipt: the channel stays closed
	// while the subprocess winds down and would otherwise spin the loop.
	cancelled := taskCtx.Done()

waitLoop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Stream closed; the adapter result is imminent.
				events = nil
				continue
			}
			if ev.Type == models.StreamError && ev.Text != "" {
				lastError = ev.Text
			}
			o.events.Publish(bus.StreamDataEvent{TaskID: req.TaskID, Event: ev})
			inactivity.Reset(o.inactivityTimeout)
		case outcome = <-done:
			break waitLoop
		case <-inactivity.C():
			if timeoutReason == "" {
				timeoutReason = fmt.Sprintf("no output for %s (inactivity timeout)", o.inactivityTimeout)
			}
			cancel()
			cancelled = nil
		case <-wall.C():
			if timeoutReason == "" {
				timeoutReason = fmt.Sprintf("exceeded %s wall-clock timeout", o.wallTimeout)
			}
			cancel()
			cancelled = nil
		case <-cancelled:
			if timeoutReason == "" {
				timeoutReason = CancelledReason
			}
			cancelled = nil
		}
	}

	// Drain anything still buffered so stream ordering on the bus stays
	// complete even for failed tasks.
	if events != nil {
		for ev := range events {
			if ev.Type == models.StreamError && ev.Text != "" {
				lastError = ev.Text
			}
			o.events.Publish(bus.StreamDataEvent{TaskID: req.TaskID, Event: ev})
		}
	}

	result := TaskResult{
		TaskID:   req.TaskID,
		Duration: time.Since(start),
	}

	switch {
	case timeoutReason != "":
		result.Status = models.StatusFailure
		result.Error = timeoutReason
		result.Cancelled = timeoutReason == CancelledReason
	case outcome.err != nil:
		result.Status = models.StatusFailure
		result.Error = outcome.err.Error()
	case outcome.result.ExitCode != 0:
		result.Status = models.StatusFailure
		result.Error = adapterFailureText(outcome.result, lastError)
		result.FilesChanged = outcome.result.FilesChanged
	default:
		result.Status = models.StatusSuccess
		result.FilesChanged = outcome.result.FilesChanged
	}

	if result.Status == models.StatusSuccess {
		o.events.Publish(bus.TaskCompleteEvent{
			TaskID:       req.TaskID,
			Success:      true,
			FilesChanged: result.FilesChanged,
		})
	} else {
		o.events.Publish(bus.TaskFailedEvent{TaskID: req.TaskID, Error: result.Error})
	}

	return result
}

// adapterFailureText picks the most useful error text for a non-zero exit:
// stderr when present, otherwise the last streamed error event.
func adapterFailureText(result *agent.Result, lastError string) string {
	text := strings.TrimSpace(result.Stderr)
	if text == "" {
		text = lastError
	}
	if text == "" {
		return fmt.Sprintf("agent exited with code %d", result.ExitCode)
	}
	return fmt.Sprintf("agent exited with code %d: %s", result.ExitCode, text)
}

func (o *Orchestrator) register(taskID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running[taskID] = cancel
}

func (o *Orchestrator) unregister(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, taskID)
}

// optionalTimer wraps time.Timer so a zero duration means "never fires".
type optionalTimer struct {
	timer *time.Timer
}

func newOptionalTimer(d time.Duration) *optionalTimer {
	if d <= 0 {
		return &optionalTimer{}
	}
	return &optionalTimer{timer: time.NewTimer(d)}
}

func (t *optionalTimer) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}

func (t *optionalTimer) Reset(d time.Duration) {
	if t.timer == nil {
		return
	}
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
	t.timer.Reset(d)
}

func (t *optionalTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
