package agent

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/chopstack/chopstack/internal/models"
)

// maxStreamLineBytes bounds a single NDJSON line. Agent tool results can
// embed whole files, so the limit is generous.
const maxStreamLineBytes = 4 * 1024 * 1024

// streamLine is the wire shape of one line-delimited JSON record on the
// adapter's stdout. Unknown fields are kept in the payload untouched.
type streamLine struct {
	Type string          `json:"type"`
	Text string          `json:"text"`
	Tool string          `json:"tool"`
	Name string          `json:"name"`
	Raw  json.RawMessage `json:"-"`
}

// ReadStream parses line-delimited JSON from r into StreamEvents and sends
// each one to events. Lines that are not valid JSON are forwarded as text
// events so nothing the agent prints is silently dropped. Returns the set
// of file paths seen in tool_use events, in first-seen order.
func ReadStream(r io.Reader, events chan<- models.StreamEvent) []string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLineBytes)

	var touched []string
	seen := make(map[string]bool)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		event, files := parseStreamLine(line)
		for _, f := range files {
			if !seen[f] {
				seen[f] = true
				touched = append(touched, f)
			}
		}
		events <- event
	}

	// A scanner error (an over-long line, a broken pipe) stops parsing
	// while the subprocess may keep writing; report it so consumers see
	// more than a stalled stream.
	if err := scanner.Err(); err != nil {
		events <- models.StreamEvent{
			Type: models.StreamError,
			Text: "stream read error: " + err.Error(),
		}
	}

	return touched
}

// parseStreamLine converts one stdout line into a StreamEvent plus any file
// paths referenced by a tool invocation.
func parseStreamLine(line string) (models.StreamEvent, []string) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		return models.StreamEvent{Type: models.StreamText, Text: line}, nil
	}

	event := models.StreamEvent{Payload: payload}
	switch typeOf(payload) {
	case "thinking":
		event.Type = models.StreamThinking
		event.Text = stringField(payload, "text")
	case "tool_use":
		event.Type = models.StreamToolUse
		event.Tool = firstString(payload, "tool", "name")
		event.Text = stringField(payload, "text")
		return event, toolFiles(payload)
	case "error":
		event.Type = models.StreamError
		event.Text = firstString(payload, "error", "message", "text")
	default:
		event.Type = models.StreamText
		event.Text = firstString(payload, "text", "content")
	}
	return event, nil
}

func typeOf(payload map[string]any) string {
	return stringField(payload, "type")
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func firstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := stringField(payload, key); v != "" {
			return v
		}
	}
	return ""
}

// toolFiles extracts file paths from a tool_use record. Write-capable tools
// put the target under input.file_path (or path); that is what feeds the
// adapter's filesChanged set.
func toolFiles(payload map[string]any) []string {
	input, ok := payload["input"].(map[string]any)
	if !ok {
		return nil
	}
	var files []string
	for _, key := range []string{"file_path", "path"} {
		if v, ok := input[key].(string); ok && v != "" {
			files = append(files, v)
		}
	}
	return files
}
