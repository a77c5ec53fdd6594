package bus

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chopstack/chopstack/internal/models"
)

func TestSubscribeAndPublish(t *testing.T) {
	b := New()
	var got []string

	b.Subscribe(TopicTaskFailed, func(e Event) {
		got = append(got, e.(TaskFailedEvent).TaskID)
	})

	b.Publish(TaskFailedEvent{TaskID: "a", Error: "boom"})
	b.Publish(TaskCompleteEvent{TaskID: "b"}) // different topic, not delivered

	assert.Equal(t, []string{"a"}, got)
}

func TestSubscribeAllReceivesEveryTopic(t *testing.T) {
	b := New()
	var topics []Topic

	b.SubscribeAll(func(e Event) {
		topics = append(topics, e.EventTopic())
	})

	b.Publish(TaskStartEvent{Task: models.Task{ID: "a"}})
	b.Publish(StreamDataEvent{TaskID: "a", Event: models.StreamEvent{Type: models.StreamText}})
	b.Publish(TaskCompleteEvent{TaskID: "a"})

	assert.Equal(t, []Topic{TopicTaskStart, TopicStreamData, TopicTaskComplete}, topics)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0

	id := b.Subscribe(TopicLog, func(Event) { calls++ })
	b.Publish(LogEvent{Level: LevelInfo, Message: "one"})

	require.True(t, b.Unsubscribe(id))
	b.Publish(LogEvent{Level: LevelInfo, Message: "two"})

	assert.Equal(t, 1, calls)
	assert.False(t, b.Unsubscribe(id), "second unsubscribe finds nothing")
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	b := New()
	delivered := false

	b.Subscribe(TopicLog, func(Event) { panic("handler bug") })
	b.Subscribe(TopicLog, func(Event) { delivered = true })

	assert.NotPanics(t, func() {
		b.Publish(LogEvent{Level: LevelError, Message: "still delivered"})
	})
	assert.True(t, delivered)
}

func TestOrderingPerTopic(t *testing.T) {
	b := New()
	var seen []string

	b.Subscribe(TopicStreamData, func(e Event) {
		seen = append(seen, e.(StreamDataEvent).Event.Text)
	})

	for _, text := range []string{"first", "second", "third"} {
		b.Publish(StreamDataEvent{TaskID: "t", Event: models.StreamEvent{Type: models.StreamText, Text: text}})
	}

	assert.Equal(t, []string{"first", "second", "third"}, seen)
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	var mu sync.Mutex
	count := 0

	b.Subscribe(TopicLog, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(LogEvent{Level: LevelDebug, Message: "x"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, count)
}

func TestRendererModes(t *testing.T) {
	events := []Event{
		TaskStartEvent{Task: models.Task{ID: "t1", Name: "Task one"}},
		TaskProgressEvent{TaskID: "t1", Phase: PhaseExecuting},
		StreamDataEvent{TaskID: "t1", Event: models.StreamEvent{Type: models.StreamText, Text: "hello"}},
		TaskFailedEvent{TaskID: "t1", Error: "exit 1"},
		VCSBranchCreatedEvent{BranchName: "chopstack/t1", ParentBranch: "main"},
	}

	tests := []struct {
		mode        RenderMode
		contains    []string
		notContains []string
	}{
		{
			mode:        RenderQuiet,
			contains:    []string{"started", "failed"},
			notContains: []string{"executing", "hello", "branch"},
		},
		{
			mode:        RenderNormal,
			contains:    []string{"started", "executing", "failed"},
			notContains: []string{"hello", "branch"},
		},
		{
			mode:     RenderVerbose,
			contains: []string{"started", "executing", "hello", "failed", "branch chopstack/t1"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			var buf bytes.Buffer
			b := New()
			NewRenderer(&buf, tt.mode).Attach(b)

			for _, e := range events {
				b.Publish(e)
			}

			out := buf.String()
			for _, want := range tt.contains {
				assert.True(t, strings.Contains(out, want), "mode %s should render %q, got:\n%s", tt.mode, want, out)
			}
			for _, unwanted := range tt.notContains {
				assert.False(t, strings.Contains(out, unwanted), "mode %s should not render %q, got:\n%s", tt.mode, unwanted, out)
			}
		})
	}
}
