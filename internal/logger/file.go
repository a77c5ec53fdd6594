package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chopstack/chopstack/internal/bus"
	"github.com/chopstack/chopstack/internal/models"
)

// FileLogger persists a chopstack run under the log directory: one global
// run log named chopstack-run-<timestamp>-<jobID>.log with a latest.log
// symlink, plus task-<id>.log per task. It subscribes to the event bus
// and is safe for concurrent use.
type FileLogger struct {
	logDir   string
	jobID    string
	runLog   *os.File
	runFile  string
	logLevel string

	mu       sync.Mutex
	taskLogs map[string]*os.File
}

// NewFileLogger creates a FileLogger writing under logDir, creating the
// directory, the timestamped run log and the latest.log symlink. Each run
// gets a fresh job id.
func NewFileLogger(logDir, logLevel string) (*FileLogger, error) {
	if logDir == "" {
		logDir = filepath.Join(".chopstack", "logs")
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	jobID := uuid.NewString()[:8]
	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runFile := filepath.Join(logDir, fmt.Sprintf("chopstack-run-%s-%s.log", timestamp, jobID))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		jobID:    jobID,
		runLog:   file,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
		taskLogs: make(map[string]*os.File),
	}
	fl.writeRunLog(fmt.Sprintf("=== chopstack run %s ===\n", jobID))
	fl.writeRunLog(fmt.Sprintf("started at: %s\n\n", time.Now().Format(time.RFC3339)))
	return fl, nil
}

// JobID returns this run's identifier.
func (fl *FileLogger) JobID() string { return fl.jobID }

// RunLogPath returns the path of the global run log.
func (fl *FileLogger) RunLogPath() string { return fl.runFile }

// Attach subscribes the logger to every topic on the bus.
func (fl *FileLogger) Attach(b *bus.Bus) uint64 {
	return b.SubscribeAll(fl.Handle)
}

// Handle persists one bus event.
func (fl *FileLogger) Handle(event bus.Event) {
	switch e := event.(type) {
	case bus.TaskStartEvent:
		fl.logRun("INFO", fmt.Sprintf("task %s started", e.Task.ID))
		fl.logTask(e.Task.ID, fmt.Sprintf("=== task %s: %s ===", e.Task.ID, e.Task.Name))
	case bus.TaskProgressEvent:
		fl.logRun("DEBUG", fmt.Sprintf("task %s: %s %s", e.TaskID, e.Phase, e.Message))
	case bus.TaskCompleteEvent:
		fl.logRun("INFO", fmt.Sprintf("task %s completed (%d files)", e.TaskID, len(e.FilesChanged)))
		fl.logTask(e.TaskID, fmt.Sprintf("completed, files changed: %v", e.FilesChanged))
		fl.closeTask(e.TaskID)
	case bus.TaskFailedEvent:
		fl.logRun("ERROR", fmt.Sprintf("task %s failed: %s", e.TaskID, e.Error))
		fl.logTask(e.TaskID, "failed: "+e.Error)
		fl.closeTask(e.TaskID)
	case bus.StreamDataEvent:
		fl.logTask(e.TaskID, streamLine(e.Event))
	case bus.LogEvent:
		fl.logRun(string(e.Level), e.Message)
	case bus.VCSBranchCreatedEvent:
		fl.logRun("INFO", fmt.Sprintf("branch %s created from %s", e.BranchName, e.ParentBranch))
	case bus.VCSCommitEvent:
		fl.logRun("INFO", fmt.Sprintf("commit on %s (%d files)", e.BranchName, len(e.FilesChanged)))
		for _, r := range e.Resolutions {
			fl.logRun("INFO", "conflict resolved: "+r)
		}
	}
}

func streamLine(ev models.StreamEvent) string {
	switch ev.Type {
	case models.StreamToolUse:
		return fmt.Sprintf("[tool] %s", ev.Tool)
	case models.StreamThinking:
		return "[thinking] " + ev.Text
	case models.StreamError:
		return "[error] " + ev.Text
	default:
		return ev.Text
	}
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(normalizeLogLevel(messageLevel)) >= logLevelToInt(fl.logLevel)
}

func (fl *FileLogger) logRun(level, message string) {
	if !fl.shouldLog(level) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message))
}

func (fl *FileLogger) writeRunLog(line string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog != nil {
		fl.runLog.WriteString(line)
	}
}

// logTask appends one line to the task's dedicated log, opening it on
// first use.
func (fl *FileLogger) logTask(taskID, line string) {
	if line == "" {
		return
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()

	file, ok := fl.taskLogs[taskID]
	if !ok {
		path := filepath.Join(fl.logDir, fmt.Sprintf("task-%s.log", taskID))
		var err error
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		fl.taskLogs[taskID] = file
	}
	fmt.Fprintf(file, "[%s] %s\n", time.Now().Format("15:04:05"), line)
}

func (fl *FileLogger) closeTask(taskID string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if file, ok := fl.taskLogs[taskID]; ok {
		file.Close()
		delete(fl.taskLogs, taskID)
	}
}

// Close flushes and closes the run log and any open task logs.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	for id, file := range fl.taskLogs {
		file.Close()
		delete(fl.taskLogs, id)
	}
	if fl.runLog == nil {
		return nil
	}
	fl.runLog.WriteString(fmt.Sprintf("\nfinished at: %s\n", time.Now().Format(time.RFC3339)))
	err := fl.runLog.Close()
	fl.runLog = nil
	return err
}
