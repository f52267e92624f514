package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"framepipe/internal/services"
)

// MarkRunning moves a run from one of the allowed statuses into running under
// owner's lease. Any persisted failure is cleared so a failed run can be
// manually resumed.
func (s *Store) MarkRunning(ctx context.Context, id, owner string, from ...Status) error {
	if len(from) == 0 {
		from = []Status{StatusPending}
	}
	ts := s.timestamp()
	args := []any{StatusRunning, nullableString(owner), ts, ts, id}
	args = append(args, statusArgs(from)...)
	res, err := s.execWithRetry(ctx,
		`UPDATE runs
         SET status = ?, owner = ?, last_heartbeat = ?, updated_at = ?, completed_at = NULL,
             failure_kind = NULL, failure_root_kind = NULL, failure_stage = NULL,
             failure_stage_index = NULL, failure_message = NULL, failure_attempts = NULL
         WHERE id = ? AND status IN (`+makePlaceholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: run %s is not in %v", ErrConflict, id, from))
	}
	return nil
}

// ClaimRun takes the lease on an active run for owner. The claim succeeds when
// the run is unowned, already owned by owner, or its lease heartbeat is older
// than cutoff.
func (s *Store) ClaimRun(ctx context.Context, id, owner string, cutoff time.Time) error {
	ts := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET owner = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)
           AND (owner IS NULL OR owner = ? OR last_heartbeat IS NULL OR last_heartbeat < ?)`,
		owner, ts, ts, id, StatusPending, StatusRunning, owner, formatTime(cutoff),
	)
	if err != nil {
		return fmt.Errorf("claim run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		run, getErr := s.GetRun(ctx, id)
		if getErr != nil {
			return getErr
		}
		if !run.Status.IsActive() {
			return fmt.Errorf("%w: run %s is %s", ErrConflict, id, run.Status)
		}
		return fmt.Errorf("%w: run %s owned by %s", ErrLeaseHeld, id, run.Owner)
	}
	return nil
}

// ReleaseRun drops owner's lease so another orchestrator can resume the run
// immediately.
func (s *Store) ReleaseRun(ctx context.Context, id, owner string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE runs SET owner = NULL, updated_at = ? WHERE id = ? AND owner = ?`,
		s.timestamp(), id, owner,
	); err != nil {
		return fmt.Errorf("release run: %w", err)
	}
	return nil
}

// RenewLease refreshes owner's heartbeat on a running run. It fails with
// ErrLeaseHeld when the lease has passed to someone else.
func (s *Store) RenewLease(ctx context.Context, id, owner string) error {
	ts := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND owner = ? AND status IN (?, ?)`,
		ts, ts, id, owner, StatusPending, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: lease on %s lost", ErrLeaseHeld, id))
	}
	return nil
}

// UpdateProgress records advisory progress for status output.
func (s *Store) UpdateProgress(ctx context.Context, id, stageName string, percent float64, message string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE runs SET progress_stage = ?, progress_percent = ?, progress_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		nullableString(stageName), percent, nullableString(message), s.timestamp(), id, StatusRunning,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// AppendStageResult durably records the result of the run's current stage and
// advances the stage index in one transaction. The write only applies when
// the run is running and its current stage equals result.Index; otherwise
// ErrConflict is returned and nothing changes.
func (s *Store) AppendStageResult(ctx context.Context, id string, result StageResult) error {
	completedAt := result.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	ts := s.timestamp()
	var missing bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		missing = false
		res, err := tx.ExecContext(ctx,
			`UPDATE runs
             SET current_stage = current_stage + 1, progress_stage = NULL, progress_percent = 0,
                 progress_message = NULL, updated_at = ?
             WHERE id = ? AND status = ? AND current_stage = ? AND current_stage < stage_count`,
			ts, id, StatusRunning, result.Index,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			missing = true
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stage_results (run_id, stage_index, stage_name, output, attempts, completed_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			id, result.Index, result.Name, string(result.Output), result.Attempts, formatTime(completedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append stage result: %w", err)
	}
	if missing {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: run %s is not running at stage %d", ErrConflict, id, result.Index))
	}
	return nil
}

// MarkCompleted finalizes a running run whose every stage has a result.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	ts := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs
         SET status = ?, owner = NULL, progress_stage = NULL, progress_percent = 100,
             progress_message = NULL, updated_at = ?, completed_at = ?
         WHERE id = ? AND status = ? AND current_stage = stage_count`,
		StatusCompleted, ts, ts, id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: run %s cannot complete", ErrConflict, id))
	}
	return nil
}

// MarkFailed records a terminal failure on an active run.
func (s *Store) MarkFailed(ctx context.Context, id string, failure *Failure) error {
	if failure == nil {
		failure = &Failure{Kind: services.KindExecution, Message: "unknown failure"}
	}
	ts := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs
         SET status = ?, owner = NULL, failure_kind = ?, failure_root_kind = ?, failure_stage = ?,
             failure_stage_index = ?, failure_message = ?, failure_attempts = ?,
             updated_at = ?, completed_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusFailed, string(failure.Kind), nullableString(string(failure.RootKind)), nullableString(failure.Stage),
		failure.StageIndex, failure.Message, failure.Attempts,
		ts, ts, id, StatusPending, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: run %s is not active", ErrConflict, id))
	}
	return nil
}

// StaleRuns returns active runs that no live orchestrator holds: unowned runs
// and runs whose lease heartbeat is older than cutoff.
func (s *Store) StaleRuns(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM runs
         WHERE status IN (?, ?)
           AND (owner IS NULL OR last_heartbeat IS NULL OR last_heartbeat < ?)
         ORDER BY created_at, id`,
		StatusPending, StatusRunning, formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale run: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
