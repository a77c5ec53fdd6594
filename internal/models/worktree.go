package models

import "time"

// WorktreeContext describes the isolated workspace a single task runs in.
// Contexts are owned exclusively by the VCS engine; other components see
// read-only copies on the event bus.
type WorktreeContext struct {
	TaskID       string
	BranchName   string
	WorktreePath string // repo-relative, e.g. .chopstack/shadows/<taskId>
	AbsolutePath string
	BaseRef      string
	Created      time.Time
}
