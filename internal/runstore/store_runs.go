package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateRun persists a new run in the pending state.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return errors.New("create run: id is required")
	}
	if run.StageCount <= 0 {
		return errors.New("create run: pipeline has no stages")
	}
	now := s.now().UTC()
	ts := formatTime(now)
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, pipeline, input, status, current_stage, stage_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		run.ID, run.Pipeline, run.Input, StatusPending, run.StageCount, ts, ts,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	run.Status = StatusPending
	run.CurrentStage = 0
	run.CreatedAt = now
	run.UpdatedAt = now
	return nil
}

// GetRun loads a run with its stage results in index order.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	results, err := s.loadResults(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Results = results
	return run, nil
}

// ListRuns returns runs filtered by status, newest first. Stage results are not
// loaded; use GetRun for a full record.
func (s *Store) ListRuns(ctx context.Context, statuses ...Status) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []any
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		args = statusArgs(statuses)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats counts runs per status.
func (s *Store) Stats(ctx context.Context) (StatusSummary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	summary := StatusSummary{}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		summary[Status(status)] = count
	}
	return summary, rows.Err()
}

// RemoveRun deletes a terminal run and its results. Active runs cannot be
// removed.
func (s *Store) RemoveRun(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx,
		"DELETE FROM runs WHERE id = ? AND status IN (?, ?)",
		id, StatusCompleted, StatusFailed)
	if err != nil {
		return fmt.Errorf("remove run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: run %s is still active", ErrConflict, id))
	}
	return nil
}

// ClearStatus deletes every run in a terminal status and returns how many were
// removed.
func (s *Store) ClearStatus(ctx context.Context, status Status) (int64, error) {
	if !status.IsTerminal() {
		return 0, fmt.Errorf("clear runs: status %q is not terminal", status)
	}
	res, err := s.execWithRetry(ctx, "DELETE FROM runs WHERE status = ?", status)
	if err != nil {
		return 0, fmt.Errorf("clear %s runs: %w", status, err)
	}
	return res.RowsAffected()
}
