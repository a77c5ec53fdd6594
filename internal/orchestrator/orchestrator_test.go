package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chopstack/chopstack/internal/agent"
	"github.com/chopstack/chopstack/internal/bus"
	"github.com/chopstack/chopstack/internal/models"
)

// fakeAdapter scripts an adapter run: emit events, optionally block until
// cancelled, then return a fixed result.
type fakeAdapter struct {
	events       []models.StreamEvent
	result       *agent.Result
	err          error
	blockForever bool
	eventDelay   time.Duration

	mu       sync.Mutex
	requests []agent.Request
}

func (f *fakeAdapter) Name() string      { return "fake" }
func (f *fakeAdapter) IsAvailable() bool { return true }

func (f *fakeAdapter) Execute(ctx context.Context, req agent.Request, events chan<- models.StreamEvent) (*agent.Result, error) {
	defer close(events)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	for _, ev := range f.events {
		if f.eventDelay > 0 {
			select {
			case <-time.After(f.eventDelay):
			case <-ctx.Done():
				return &agent.Result{ExitCode: 130}, nil
			}
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return &agent.Result{ExitCode: 130}, nil
		}
	}

	if f.blockForever {
		<-ctx.Done()
		return &agent.Result{ExitCode: 130}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &agent.Result{}, nil
}

// recorder captures every event published on the bus, in order.
type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func newRecorder(b *bus.Bus) *recorder {
	r := &recorder{}
	b.SubscribeAll(func(e bus.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

func (r *recorder) topics() []bus.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.Topic, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventTopic()
	}
	return out
}

func (r *recorder) countTopic(topic bus.Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventTopic() == topic {
			n++
		}
	}
	return n
}

func (r *recorder) lastFailure() (bus.TaskFailedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if f, ok := r.events[i].(bus.TaskFailedEvent); ok {
			return f, true
		}
	}
	return bus.TaskFailedEvent{}, false
}

func TestExecuteTaskSuccess(t *testing.T) {
	adapter := &fakeAdapter{
		events: []models.StreamEvent{
			{Type: models.StreamThinking, Text: "reading the file"},
			{Type: models.StreamToolUse, Tool: "Write"},
		},
		result: &agent.Result{FilesChanged: []string{"src/auth.go"}},
	}
	b := bus.New()
	rec := newRecorder(b)
	orch := New(adapter, b, 0, 0)

	result := orch.ExecuteTask(context.Background(), TaskRequest{
		TaskID:  "add-auth",
		Title:   "Add auth",
		Prompt:  "implement auth",
		Workdir: "/tmp/wt",
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, []string{"src/auth.go"}, result.FilesChanged)
	assert.Empty(t, result.Error)
	assert.False(t, result.Cancelled)

	topics := rec.topics()
	require.NotEmpty(t, topics)
	assert.Equal(t, bus.TopicTaskStart, topics[0])
	assert.Equal(t, bus.TopicTaskComplete, topics[len(topics)-1])
	assert.Equal(t, 2, rec.countTopic(bus.TopicStreamData))

	// The adapter sees the request fields, not orchestrator internals.
	require.Len(t, adapter.requests, 1)
	assert.Equal(t, "implement auth", adapter.requests[0].Prompt)
	assert.Equal(t, "/tmp/wt", adapter.requests[0].Workdir)
}

func TestExecuteTaskNonZeroExitFails(t *testing.T) {
	adapter := &fakeAdapter{
		result: &agent.Result{ExitCode: 2, Stderr: "compile error: missing import X"},
	}
	b := bus.New()
	rec := newRecorder(b)
	orch := New(adapter, b, 0, 0)

	result := orch.ExecuteTask(context.Background(), TaskRequest{TaskID: "t1"})

	assert.Equal(t, models.StatusFailure, result.Status)
	assert.Contains(t, result.Error, "exited with code 2")
	assert.Contains(t, result.Error, "missing import X")

	failed, ok := rec.lastFailure()
	require.True(t, ok)
	assert.Equal(t, "t1", failed.TaskID)
	assert.Contains(t, failed.Error, "missing import X")
}

func TestExecuteTaskFallsBackToStreamedError(t *testing.T) {
	adapter := &fakeAdapter{
		events: []models.StreamEvent{
			{Type: models.StreamError, Text: "tests failed in auth_test.go"},
		},
		result: &agent.Result{ExitCode: 1},
	}
	b := bus.New()
	orch := New(adapter, b, 0, 0)

	result := orch.ExecuteTask(context.Background(), TaskRequest{TaskID: "t1"})

	assert.Equal(t, models.StatusFailure, result.Status)
	assert.Contains(t, result.Error, "tests failed in auth_test.go")
}

func TestExecuteTaskAdapterError(t *testing.T) {
	adapter := &fakeAdapter{err: errors.New("binary not found")}
	b := bus.New()
	orch := New(adapter, b, 0, 0)

	result := orch.ExecuteTask(context.Background(), TaskRequest{TaskID: "t1"})

	assert.Equal(t, models.StatusFailure, result.Status)
	assert.Equal(t, "binary not found", result.Error)
}

func TestExecuteTaskWallTimeout(t *testing.T) {
	adapter := &fakeAdapter{blockForever: true}
	b := bus.New()
	orch := New(adapter, b, 30*time.Millisecond, 0)

	start := time.Now()
	result := orch.ExecuteTask(context.Background(), TaskRequest{TaskID: "slow"})

	assert.Equal(t, models.StatusFailure, result.Status)
	assert.Contains(t, result.Error, "wall-clock timeout")
	assert.False(t, result.Cancelled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteTaskInactivityTimeoutResetsOnEvents(t *testing.T) {
	// Five events spaced 10ms apart with a 40ms inactivity window: the
	// stream keeps the task alive, then silence kills it.
	adapter := &fakeAdapter{
		events: []models.StreamEvent{
			{Type: models.StreamText, Text: "1"},
			{Type: models.StreamText, Text: "2"},
			{Type: models.StreamText, Text: "3"},
			{Type: models.StreamText, Text: "4"},
			{Type: models.StreamText, Text: "5"},
		},
		eventDelay:   10 * time.Millisecond,
		blockForever: true,
	}
	b := bus.New()
	rec := newRecorder(b)
	orch := New(adapter, b, 0, 40*time.Millisecond)

	result := orch.ExecuteTask(context.Background(), TaskRequest{TaskID: "quiet"})

	assert.Equal(t, models.StatusFailure, result.Status)
	assert.Contains(t, result.Error, "inactivity timeout")
	assert.Equal(t, 5, rec.countTopic(bus.TopicStreamData), "all events delivered before the silence")
}

func TestCancelRunningTask(t *testing.T) {
	adapter := &fakeAdapter{blockForever: true}
	b := bus.New()
	orch := New(adapter, b, 0, 0)

	results := make(chan TaskResult, 1)
	go func() {
		results <- orch.ExecuteTask(context.Background(), TaskRequest{TaskID: "long"})
	}()

	require.Eventually(t, func() bool {
		return orch.RunningCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, orch.Cancel("long"))

	select {
	case result := <-results:
		assert.Equal(t, models.StatusFailure, result.Status)
		assert.True(t, result.Cancelled)
		assert.Equal(t, CancelledReason, result.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not return after cancel")
	}
	assert.Equal(t, 0, orch.RunningCount())
}

func TestCancelUnknownTask(t *testing.T) {
	orch := New(&fakeAdapter{}, bus.New(), 0, 0)
	assert.False(t, orch.Cancel("nope"))
}

func TestCancelAllTerminatesEveryTask(t *testing.T) {
	adapter := &fakeAdapter{blockForever: true}
	b := bus.New()
	orch := New(adapter, b, 0, 0)

	const n = 4
	results := make(chan TaskResult, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		go func() {
			results <- orch.ExecuteTask(context.Background(), TaskRequest{TaskID: "task-" + id})
		}()
	}

	require.Eventually(t, func() bool {
		return orch.RunningCount() == n
	}, time.Second, 5*time.Millisecond)

	orch.CancelAll()

	for i := 0; i < n; i++ {
		select {
		case result := <-results:
			assert.True(t, result.Cancelled)
		case <-time.After(2 * time.Second):
			t.Fatal("not all tasks returned after CancelAll")
		}
	}
}

func TestExecuteTaskParentContextCancellation(t *testing.T) {
	adapter := &fakeAdapter{blockForever: true}
	b := bus.New()
	orch := New(adapter, b, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan TaskResult, 1)
	go func() {
		results <- orch.ExecuteTask(ctx, TaskRequest{TaskID: "t1"})
	}()

	require.Eventually(t, func() bool {
		return orch.RunningCount() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case result := <-results:
		assert.True(t, result.Cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not observe parent cancellation")
	}
}
