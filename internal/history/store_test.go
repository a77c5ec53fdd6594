package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chopstack/chopstack/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun(jobID, planFile string) *Run {
	return &Run{
		JobID:     jobID,
		PlanFile:  planFile,
		PlanName:  "add-auth",
		Mode:      "execute",
		VCSMode:   "merge-commit",
		TrunkRef:  "main",
		Success:   true,
		TaskCount: 2,
		Duration:  90 * time.Second,
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Tasks: []TaskRecord{
			{
				TaskID:       "session-store",
				TaskName:     "Session store",
				Status:       models.StatusSuccess,
				BranchName:   "chopstack/session-store",
				CommitHash:   "abc123",
				FilesChanged: []string{"src/session/store.go"},
				Duration:     60 * time.Second,
			},
			{
				TaskID:       "login-endpoint",
				TaskName:     "Login endpoint",
				Status:       models.StatusFailure,
				ErrorMessage: "missing import X",
				RetryCount:   1,
			},
		},
	}
}

func TestRecordAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("ab12cd34", "plan.yaml")
	require.NoError(t, store.RecordRun(ctx, run))
	require.NotZero(t, run.ID)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, "ab12cd34", got.JobID)
	assert.Equal(t, "add-auth", got.PlanName)
	assert.True(t, got.Success)
	assert.Equal(t, 90*time.Second, got.Duration)
	require.Len(t, got.Tasks, 2)

	first := got.Tasks[0]
	assert.Equal(t, "session-store", first.TaskID)
	assert.Equal(t, models.StatusSuccess, first.Status)
	assert.Equal(t, "abc123", first.CommitHash)
	assert.Equal(t, []string{"src/session/store.go"}, first.FilesChanged)

	second := got.Tasks[1]
	assert.Equal(t, models.StatusFailure, second.Status)
	assert.Equal(t, "missing import X", second.ErrorMessage)
	assert.Equal(t, 1, second.RetryCount)
	assert.Empty(t, second.FilesChanged)
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRun(context.Background(), 999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestListRunsNewestFirstAndFiltered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordRun(ctx, sampleRun("run00001", "a.yaml")))
	require.NoError(t, store.RecordRun(ctx, sampleRun("run00002", "b.yaml")))
	require.NoError(t, store.RecordRun(ctx, sampleRun("run00003", "a.yaml")))

	all, err := store.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run00003", all[0].JobID)
	assert.Empty(t, all[0].Tasks, "list does not load task results")

	filtered, err := store.ListRuns(ctx, "a.yaml", 0)
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	limited, err := store.ListRuns(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "run00003", limited[0].JobID)
}

func TestCleanupOldRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := sampleRun("oldoldol", "a.yaml")
	old.StartedAt = time.Now().AddDate(0, 0, -60).UTC()
	require.NoError(t, store.RecordRun(ctx, old))

	recent := sampleRun("newnewne", "a.yaml")
	recent.StartedAt = time.Now().UTC()
	require.NoError(t, store.RecordRun(ctx, recent))

	deleted, err := store.CleanupOldRuns(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	runs, err := store.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "newnewne", runs[0].JobID)

	deleted, err = store.CleanupOldRuns(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted, "keepDays 0 keeps everything")
}

func TestRunFromResult(t *testing.T) {
	plan := &models.Plan{
		Name:     "p",
		FilePath: "plan.yaml",
		Tasks: []models.Task{
			{ID: "a", Name: "Task A"},
			{ID: "b", Name: "Task B"},
		},
	}
	result := &models.ExecutionResult{
		TotalDuration: 2 * time.Minute,
		Tasks: []models.TaskResult{
			{TaskID: "a", Status: models.StatusSuccess, Attempts: 1, CommitHash: "h1"},
			{TaskID: "b", Status: models.StatusFailure, Attempts: 3, Error: "boom"},
		},
	}

	run := RunFromResult("job12345", plan, result, "stacked", "main", time.Now())

	assert.False(t, run.Success)
	assert.Equal(t, "stacked", run.VCSMode)
	assert.Equal(t, 2, run.TaskCount)
	require.Len(t, run.Tasks, 2)
	assert.Equal(t, "Task A", run.Tasks[0].TaskName)
	assert.Equal(t, 0, run.Tasks[0].RetryCount)
	assert.Equal(t, 2, run.Tasks[1].RetryCount)
}
