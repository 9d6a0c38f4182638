package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the state of a pipeline run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run records one execution of a compiled pipeline.
type Run struct {
	ID          string
	Pipeline    string
	Dialect     string
	Hash        string
	Status      RunStatus
	Rows        int64
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// Duration is the run's wall time, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// StartRun records a new running run of the statement with the given hash.
func (s *Store) StartRun(ctx context.Context, pipeline, dialect, hash string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Pipeline:  pipeline,
		Dialect:   dialect,
		Hash:      hash,
		Status:    RunStatusRunning,
		StartedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, dialect, hash, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Pipeline, run.Dialect, run.Hash, string(run.Status), toUnix(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	s.logger.Debug("started run", slog.String("id", run.ID), slog.String("pipeline", pipeline))
	return run, nil
}

// CompleteRun finishes a run. runErr, when not nil, marks it failed.
func (s *Store) CompleteRun(ctx context.Context, id string, rows int64, runErr error) error {
	status := RunStatusCompleted
	var msg sql.NullString
	if runErr != nil {
		status = RunStatusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, row_count = ?, completed_at = ?, error = ? WHERE id = ? AND status = ?`,
		string(status), rows, toUnix(s.now()), msg, id, string(RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("running run %s: %w", id, ErrNotFound)
	}
	s.logger.Debug("completed run", slog.String("id", id), slog.String("status", string(status)))
	return nil
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline, dialect, hash, status, row_count, started_at, completed_at, error
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline, dialect, hash, status, row_count, started_at, completed_at, error
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(r scanner) (*Run, error) {
	var (
		run         Run
		status      string
		startedAt   int64
		completedAt sql.NullInt64
		errMsg      sql.NullString
	)
	err := r.Scan(&run.ID, &run.Pipeline, &run.Dialect, &run.Hash, &status, &run.Rows,
		&startedAt, &completedAt, &errMsg)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.StartedAt = fromUnix(startedAt)
	if completedAt.Valid {
		t := fromUnix(completedAt.Int64)
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	return &run, nil
}
