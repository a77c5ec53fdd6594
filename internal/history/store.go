// Package history persists run outcomes to a local SQLite database so
// past executions of a plan can be inspected after the fact.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chopstack/chopstack/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Run is one recorded execution of a plan.
type Run struct {
	ID        int64
	JobID     string
	PlanFile  string
	PlanName  string
	Mode      string
	VCSMode   string
	TrunkRef  string
	Success   bool
	TaskCount int
	Duration  time.Duration
	StartedAt time.Time
	Tasks     []TaskRecord
}

// TaskRecord is one task's outcome within a run.
type TaskRecord struct {
	ID           int64
	RunID        int64
	TaskID       string
	TaskName     string
	Status       models.TaskStatus
	ErrorMessage string
	RetryCount   int
	BranchName   string
	CommitHash   string
	FilesChanged []string
	Duration     time.Duration
}

// Store manages the SQLite run-history database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the history database at dbPath and
// applies the schema. ":memory:" opens an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so the remaining pragmas wait on locks instead of
	// failing when another process holds the database.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun writes a run and its task results atomically. The run's ID
// is set on return.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT INTO runs
		(job_id, plan_file, plan_name, mode, vcs_mode, trunk_ref, success, task_count, duration_seconds, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID,
		run.PlanFile,
		run.PlanName,
		run.Mode,
		run.VCSMode,
		run.TrunkRef,
		run.Success,
		run.TaskCount,
		int64(run.Duration.Seconds()),
		run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get run id: %w", err)
	}
	run.ID = runID

	if len(run.Tasks) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO task_results
			(run_id, task_id, task_name, status, error_message, retry_count, branch_name, commit_hash, files_changed, duration_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare task statement: %w", err)
		}
		defer stmt.Close()

		for i := range run.Tasks {
			task := &run.Tasks[i]
			filesJSON := "[]"
			if len(task.FilesChanged) > 0 {
				data, err := json.Marshal(task.FilesChanged)
				if err != nil {
					return fmt.Errorf("marshal files changed: %w", err)
				}
				filesJSON = string(data)
			}
			res, err := stmt.ExecContext(ctx,
				runID,
				task.TaskID,
				task.TaskName,
				string(task.Status),
				task.ErrorMessage,
				task.RetryCount,
				task.BranchName,
				task.CommitHash,
				filesJSON,
				int64(task.Duration.Seconds()),
			)
			if err != nil {
				return fmt.Errorf("insert task result %s: %w", task.TaskID, err)
			}
			if id, err := res.LastInsertId(); err == nil {
				task.ID = id
				task.RunID = runID
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListRuns returns runs ordered newest first, optionally filtered by plan
// file. Task results are not loaded; use GetRun for those. limit <= 0
// means no limit.
func (s *Store) ListRuns(ctx context.Context, planFile string, limit int) ([]*Run, error) {
	query := `SELECT id, job_id, plan_file, plan_name, mode, vcs_mode, trunk_ref, success, task_count, duration_seconds, started_at
		FROM runs`
	var args []interface{}
	if planFile != "" {
		query += " WHERE plan_file = ?"
		args = append(args, planFile)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// GetRun loads one run with its task results.
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, job_id, plan_file, plan_name, mode, vcs_mode, trunk_ref, success, task_count, duration_seconds, started_at
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %d", id)
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, run_id, task_id, task_name, status, error_message, retry_count, branch_name, commit_hash, files_changed, duration_seconds
		FROM task_results WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query task results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var task TaskRecord
		var status, filesJSON string
		var errMsg, branch, commit sql.NullString
		var durationSecs int64
		if err := rows.Scan(
			&task.ID,
			&task.RunID,
			&task.TaskID,
			&task.TaskName,
			&status,
			&errMsg,
			&task.RetryCount,
			&branch,
			&commit,
			&filesJSON,
			&durationSecs,
		); err != nil {
			return nil, fmt.Errorf("scan task result row: %w", err)
		}
		task.Status = models.TaskStatus(status)
		task.ErrorMessage = errMsg.String
		task.BranchName = branch.String
		task.CommitHash = commit.String
		task.Duration = time.Duration(durationSecs) * time.Second
		if filesJSON != "" && filesJSON != "[]" {
			if err := json.Unmarshal([]byte(filesJSON), &task.FilesChanged); err != nil {
				return nil, fmt.Errorf("unmarshal files changed: %w", err)
			}
		}
		run.Tasks = append(run.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task result rows: %w", err)
	}
	return run, nil
}

// CleanupOldRuns deletes runs started before the cutoff. Task results go
// with them via the cascade. Returns the number of runs deleted.
func (s *Store) CleanupOldRuns(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays).UTC()

	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var durationSecs int64
	if err := row.Scan(
		&run.ID,
		&run.JobID,
		&run.PlanFile,
		&run.PlanName,
		&run.Mode,
		&run.VCSMode,
		&run.TrunkRef,
		&run.Success,
		&run.TaskCount,
		&durationSecs,
		&run.StartedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	run.Duration = time.Duration(durationSecs) * time.Second
	return run, nil
}

// RunFromResult converts an execution outcome into a Run record.
func RunFromResult(jobID string, plan *models.Plan, result *models.ExecutionResult, vcsMode, trunkRef string, startedAt time.Time) *Run {
	run := &Run{
		JobID:     jobID,
		PlanFile:  plan.FilePath,
		PlanName:  plan.Name,
		Mode:      string(plan.Mode),
		VCSMode:   vcsMode,
		TrunkRef:  trunkRef,
		Success:   result.Failed() == 0,
		TaskCount: len(result.Tasks),
		Duration:  result.TotalDuration,
		StartedAt: startedAt,
	}
	for _, tr := range result.Tasks {
		name := tr.TaskID
		if task, ok := plan.TaskByID(tr.TaskID); ok {
			name = task.Name
		}
		retries := tr.Attempts - 1
		if retries < 0 {
			retries = 0
		}
		run.Tasks = append(run.Tasks, TaskRecord{
			TaskID:       tr.TaskID,
			TaskName:     name,
			Status:       tr.Status,
			ErrorMessage: tr.Error,
			RetryCount:   retries,
			CommitHash:   tr.CommitHash,
			FilesChanged: tr.FilesChanged,
			Duration:     tr.Duration,
		})
	}
	return run
}
