// Package logger provides the console and file logging sinks for chopstack
// runs. The console logger carries direct CLI messages; the file logger
// subscribes to the event bus and persists a full run transcript plus
// per-task logs under .chopstack/logs/.
package logger

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

// Log level ordering for filtering.
const (
	levelDebug int = 0
	levelInfo  int = 1
	levelWarn  int = 2
	levelError int = 3
)

// ConsoleLogger writes leveled, timestamped messages to a writer. All
// output is prefixed with [HH:MM:SS]. Safe for concurrent use. Color is
// enabled automatically when the writer is a TTY.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger writing to w. A nil writer
// discards everything. An empty or unknown level defaults to "info".
func NewConsoleLogger(w io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      w,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) && !color.NoColor
}

// normalizeLogLevel lowercases and validates a level, defaulting to info.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

func logLevelToInt(level string) int {
	switch level {
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	}
	return levelInfo
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// Debug logs at debug level.
func (cl *ConsoleLogger) Debug(format string, args ...any) {
	cl.log("debug", color.FgHiBlack, "DEBUG", format, args...)
}

// Info logs at info level.
func (cl *ConsoleLogger) Info(format string, args ...any) {
	cl.log("info", color.FgCyan, "INFO", format, args...)
}

// Warn logs at warn level.
func (cl *ConsoleLogger) Warn(format string, args ...any) {
	cl.log("warn", color.FgYellow, "WARN", format, args...)
}

// Error logs at error level.
func (cl *ConsoleLogger) Error(format string, args ...any) {
	cl.log("error", color.FgRed, "ERROR", format, args...)
}

// Success logs a highlighted success line at info level.
func (cl *ConsoleLogger) Success(format string, args ...any) {
	cl.log("info", color.FgGreen, "OK", format, args...)
}

func (cl *ConsoleLogger) log(level string, c color.Attribute, tag, format string, args ...any) {
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	timestamp := time.Now().Format("15:04:05")
	message := fmt.Sprintf(format, args...)
	if cl.colorOutput {
		tag = color.New(c).Sprintf("%-5s", tag)
	} else {
		tag = fmt.Sprintf("%-5s", tag)
	}
	fmt.Fprintf(cl.writer, "[%s] %s %s\n", timestamp, tag, message)
}
