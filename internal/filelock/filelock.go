// Package filelock guards chopstack's per-repository state: a run lock
// that prevents two concurrent runs from managing the same worktrees, and
// atomic writes for state files readers may see mid-write.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// runLockName is the lock file under the repository's .chopstack dir.
const runLockName = "run.lock"

// RunLock serializes chopstack runs against one repository. Two engines
// mutating the same shadow worktrees would corrupt each other's state.
type RunLock struct {
	flock *flock.Flock
	path  string
}

// NewRunLock creates the lock for the repository rooted at repoRoot. The
// lock file lives at <repoRoot>/.chopstack/run.lock.
func NewRunLock(repoRoot string) (*RunLock, error) {
	dir := filepath.Join(repoRoot, ".chopstack")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, runLockName)
	return &RunLock{flock: flock.New(path), path: path}, nil
}

// Acquire takes the run lock without blocking. A held lock means another
// run is active; the error names the lock file so the user can recover
// from a stale one.
func (l *RunLock) Acquire() error {
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock %s: %w", l.path, err)
	}
	if !acquired {
		return fmt.Errorf("another chopstack run is active in this repository (lock held at %s)", l.path)
	}
	return nil
}

// Release drops the run lock.
func (l *RunLock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release run lock %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file location.
func (l *RunLock) Path() string { return l.path }

// AtomicWrite writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial write. The
// original file is untouched if any step fails.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Same directory keeps the rename on one filesystem, which is what
	// makes it atomic.
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	tempFile = nil
	return nil
}
