package models

import "time"

// TaskStatus is the outcome of a single task in an ExecutionResult.
type TaskStatus string

// Task outcome values.
const (
	StatusSuccess   TaskStatus = "success"
	StatusFailure   TaskStatus = "failure"
	StatusSkipped   TaskStatus = "skipped"
	StatusCancelled TaskStatus = "cancelled"
)

// TaskResult is the per-task entry of an ExecutionResult.
type TaskResult struct {
	TaskID       string
	Status       TaskStatus
	Duration     time.Duration
	Error        string
	CommitHash   string
	FilesChanged []string
	Attempts     int
}

// ExecutionResult is the aggregate outcome of executing a plan.
type ExecutionResult struct {
	TotalDuration time.Duration
	Tasks         []TaskResult
	Branches      []string
	Commits       []string
	PRURLs        []string
}

// Succeeded counts tasks that completed successfully.
func (r *ExecutionResult) Succeeded() int { return r.countStatus(StatusSuccess) }

// Failed counts tasks that failed.
func (r *ExecutionResult) Failed() int { return r.countStatus(StatusFailure) }

// Skipped counts tasks that were skipped because a dependency failed.
func (r *ExecutionResult) Skipped() int { return r.countStatus(StatusSkipped) }

func (r *ExecutionResult) countStatus(status TaskStatus) int {
	n := 0
	for _, t := range r.Tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}
