package bus

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// RenderMode controls how much of the event stream the renderer shows.
type RenderMode string

// Render modes, least to most verbose.
const (
	RenderQuiet   RenderMode = "quiet"   // errors plus task start/complete
	RenderNormal  RenderMode = "normal"  // adds task progress
	RenderVerbose RenderMode = "verbose" // adds stream data and VCS events
)

// Renderer is the single console consumer of the event bus. It subscribes
// to all topics and formats what its mode allows. It is purely a formatter
// and holds no scheduling state.
type Renderer struct {
	writer io.Writer
	mode   RenderMode
	useTTY bool
	mu     sync.Mutex
}

// NewRenderer creates a renderer writing to w. Color output is enabled when
// w is a terminal.
func NewRenderer(w io.Writer, mode RenderMode) *Renderer {
	useTTY := false
	if f, ok := w.(*os.File); ok {
		useTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	switch mode {
	case RenderQuiet, RenderNormal, RenderVerbose:
	default:
		mode = RenderNormal
	}
	return &Renderer{writer: w, mode: mode, useTTY: useTTY}
}

// Attach subscribes the renderer to every topic on the bus and returns the
// subscription id.
func (r *Renderer) Attach(b *Bus) uint64 {
	return b.SubscribeAll(r.Handle)
}

// Handle formats a single event according to the render mode.
func (r *Renderer) Handle(event Event) {
	switch e := event.(type) {
	case TaskStartEvent:
		r.printf("%s task %s started (%s)", r.tag("▶", color.FgCyan), e.Task.ID, e.Task.Name)
	case TaskCompleteEvent:
		r.printf("%s task %s completed (%d files changed)", r.tag("✔", color.FgGreen), e.TaskID, len(e.FilesChanged))
	case TaskFailedEvent:
		r.printf("%s task %s failed: %s", r.tag("✘", color.FgRed), e.TaskID, e.Error)
	case TaskProgressEvent:
		if r.mode == RenderQuiet {
			return
		}
		msg := string(e.Phase)
		if e.Message != "" {
			msg += ": " + e.Message
		}
		r.printf("  task %s %s", e.TaskID, msg)
	case StreamDataEvent:
		if r.mode != RenderVerbose {
			return
		}
		line := e.Event.Text
		if e.Event.Tool != "" {
			line = e.Event.Tool + " " + line
		}
		r.printf("  [%s] %s %s", e.TaskID, e.Event.Type, strings.TrimSpace(line))
	case LogEvent:
		if e.Level != LevelError && r.mode == RenderQuiet {
			return
		}
		if e.Level == LevelDebug && r.mode != RenderVerbose {
			return
		}
		r.printf("[%s] %s", r.levelTag(e.Level), e.Message)
	case VCSBranchCreatedEvent:
		if r.mode != RenderVerbose {
			return
		}
		r.printf("  branch %s created on %s", e.BranchName, e.ParentBranch)
	case VCSCommitEvent:
		if r.mode != RenderVerbose {
			return
		}
		suffix := ""
		if len(e.Resolutions) > 0 {
			suffix = fmt.Sprintf(" (%d conflicts auto-resolved)", len(e.Resolutions))
		}
		r.printf("  commit on %s: %d files%s", e.BranchName, len(e.FilesChanged), suffix)
	}
}

func (r *Renderer) tag(symbol string, attr color.Attribute) string {
	if r.useTTY {
		return color.New(attr).Sprint(symbol)
	}
	return symbol
}

func (r *Renderer) levelTag(level LogLevel) string {
	if !r.useTTY {
		return string(level)
	}
	switch level {
	case LevelDebug:
		return color.New(color.FgCyan).Sprint(level)
	case LevelInfo:
		return color.New(color.FgBlue).Sprint(level)
	case LevelWarn:
		return color.New(color.FgYellow).Sprint(level)
	case LevelError:
		return color.New(color.FgRed).Sprint(level)
	}
	return string(level)
}

func (r *Renderer) printf(format string, args ...any) {
	if r.writer == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.writer, "[%s] %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}
