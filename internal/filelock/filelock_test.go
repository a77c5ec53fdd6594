package filelock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLockExcludesSecondRun(t *testing.T) {
	repo := t.TempDir()

	first, err := NewRunLock(repo)
	require.NoError(t, err)
	require.NoError(t, first.Acquire())
	defer first.Release()

	second, err := NewRunLock(repo)
	require.NoError(t, err)
	err = second.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another chopstack run is active")
	assert.Contains(t, err.Error(), second.Path())
}

func TestRunLockReleaseAllowsReacquire(t *testing.T) {
	repo := t.TempDir()

	lock, err := NewRunLock(repo)
	require.NoError(t, err)
	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())

	again, err := NewRunLock(repo)
	require.NoError(t, err)
	require.NoError(t, again.Acquire())
	require.NoError(t, again.Release())
}

func TestAtomicWriteCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	require.NoError(t, AtomicWrite(path, []byte(`{"ok":true}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestAtomicWriteReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	require.NoError(t, AtomicWrite(path, []byte("new")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	// No temp droppings left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
