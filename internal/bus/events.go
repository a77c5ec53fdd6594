package bus

import (
	"github.com/chopstack/chopstack/internal/models"
)

// Topic names an event class on the bus.
type Topic string

// The topics chopstack components publish on.
const (
	TopicTaskStart        Topic = "task:start"
	TopicTaskProgress     Topic = "task:progress"
	TopicTaskComplete     Topic = "task:complete"
	TopicTaskFailed       Topic = "task:failed"
	TopicStreamData       Topic = "stream:data"
	TopicLog              Topic = "log"
	TopicVCSBranchCreated Topic = "vcs:branch-created"
	TopicVCSCommit        Topic = "vcs:commit"
)

// Event is anything that can be published on the bus.
type Event interface {
	EventTopic() Topic
}

// ProgressPhase describes where in its lifecycle a running task is.
type ProgressPhase string

// Progress phases, in order.
const (
	PhaseQueued      ProgressPhase = "queued"
	PhaseExecuting   ProgressPhase = "executing"
	PhaseIntegrating ProgressPhase = "integrating"
)

// LogLevel classifies a log record on the bus.
type LogLevel string

// Log levels, least to most severe.
const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// TaskStartEvent announces that a task has been dispatched.
type TaskStartEvent struct {
	Task    models.Task
	Context *models.WorktreeContext
}

// EventTopic implements Event.
func (TaskStartEvent) EventTopic() Topic { return TopicTaskStart }

// TaskProgressEvent reports a lifecycle phase change for a running task.
type TaskProgressEvent struct {
	TaskID  string
	Phase   ProgressPhase
	Message string
}

// EventTopic implements Event.
func (TaskProgressEvent) EventTopic() Topic { return TopicTaskProgress }

// TaskCompleteEvent announces successful completion of a task.
type TaskCompleteEvent struct {
	TaskID       string
	Success      bool
	FilesChanged []string
}

// EventTopic implements Event.
func (TaskCompleteEvent) EventTopic() Topic { return TopicTaskComplete }

// TaskFailedEvent announces task failure with the captured error text.
type TaskFailedEvent struct {
	TaskID string
	Error  string
}

// EventTopic implements Event.
func (TaskFailedEvent) EventTopic() Topic { return TopicTaskFailed }

// StreamDataEvent carries one streamed record from a task's agent
// subprocess, tagged with the owning task id.
type StreamDataEvent struct {
	TaskID string
	Event  models.StreamEvent
}

// EventTopic implements Event.
func (StreamDataEvent) EventTopic() Topic { return TopicStreamData }

// LogEvent is a structured log record.
type LogEvent struct {
	Level    LogLevel
	Message  string
	Metadata map[string]any
}

// EventTopic implements Event.
func (LogEvent) EventTopic() Topic { return TopicLog }

// VCSBranchCreatedEvent announces creation of a branch during stack assembly.
type VCSBranchCreatedEvent struct {
	BranchName   string
	ParentBranch string
}

// EventTopic implements Event.
func (VCSBranchCreatedEvent) EventTopic() Topic { return TopicVCSBranchCreated }

// VCSCommitEvent announces a commit, including any conflict resolutions
// that were applied while producing it.
type VCSCommitEvent struct {
	BranchName   string
	Message      string
	FilesChanged []string
	Resolutions  []string
}

// EventTopic implements Event.
func (VCSCommitEvent) EventTopic() Topic { return TopicVCSCommit }
