package models

// StreamEventType classifies a single streamed record from a coding agent.
type StreamEventType string

// Stream event types emitted by execution adapters.
const (
	StreamThinking StreamEventType = "thinking"
	StreamToolUse  StreamEventType = "tool_use"
	StreamText     StreamEventType = "text"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one line of structured output from a coding-agent
// subprocess. The payload is free-form but JSON-encodable; well-known
// fields are lifted into Text and Tool for convenience.
type StreamEvent struct {
	Type    StreamEventType
	Text    string
	Tool    string
	Payload map[string]any
}
