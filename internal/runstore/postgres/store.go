// Package postgres implements runstore.Backend on PostgreSQL using pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"framepipe/internal/runstore"
	"framepipe/internal/services"
)

//go:embed schema.sql
var schemaSQL string

const runColumns = "id, pipeline, input, status, current_stage, stage_count, owner, last_heartbeat, progress_stage, progress_percent, progress_message, failure_kind, failure_root_kind, failure_stage, failure_stage_index, failure_message, failure_attempts, created_at, updated_at, completed_at"

// Store persists runs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ runstore.Backend = (*Store)(nil)

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateRun persists a new run in the pending state.
func (s *Store) CreateRun(ctx context.Context, run *runstore.Run) error {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return errors.New("create run: id is required")
	}
	if run.StageCount <= 0 {
		return errors.New("create run: pipeline has no stages")
	}
	now := s.now().UTC()
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO framepipe_runs (id, pipeline, input, status, current_stage, stage_count, created_at, updated_at)
         VALUES ($1, $2, $3, $4, 0, $5, $6, $6)`,
		run.ID, run.Pipeline, run.Input, string(runstore.StatusPending), run.StageCount, now,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	run.Status = runstore.StatusPending
	run.CurrentStage = 0
	run.CreatedAt = now
	run.UpdatedAt = now
	return nil
}

// GetRun loads a run with its stage results in index order.
func (s *Store) GetRun(ctx context.Context, id string) (*runstore.Run, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM framepipe_runs WHERE id = $1", id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", runstore.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT stage_index, stage_name, output, attempts, completed_at
         FROM framepipe_stage_results WHERE run_id = $1 ORDER BY stage_index`, id)
	if err != nil {
		return nil, fmt.Errorf("query stage results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			result runstore.StageResult
			output string
		)
		if err := rows.Scan(&result.Index, &result.Name, &output, &result.Attempts, &result.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		result.Output = []byte(output)
		run.Results = append(run.Results, result)
	}
	return run, rows.Err()
}

// ListRuns returns runs filtered by status, newest first.
func (s *Store) ListRuns(ctx context.Context, statuses ...runstore.Status) ([]*runstore.Run, error) {
	query := "SELECT " + runColumns + " FROM framepipe_runs"
	var args []any
	if len(statuses) > 0 {
		query += " WHERE status = ANY($1)"
		args = append(args, statusStrings(statuses))
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*runstore.Run
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
func (s *Store) Stats(ctx context.Context) (runstore.StatusSummary, error) {
	rows, err := s.pool.Query(ctx, "SELECT status, COUNT(1) FROM framepipe_runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	summary := runstore.StatusSummary{}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		summary[runstore.Status(status)] = count
	}
	return summary, rows.Err()
}

// RemoveRun deletes a terminal run and its results.
func (s *Store) RemoveRun(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM framepipe_runs WHERE id = $1 AND status = ANY($2)",
		id, statusStrings([]runstore.Status{runstore.StatusCompleted, runstore.StatusFailed}))
	if err != nil {
		return fmt.Errorf("remove run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: run %s is still active", runstore.ErrConflict, id))
	}
	return nil
}

// ClearStatus deletes every run in a terminal status.
func (s *Store) ClearStatus(ctx context.Context, status runstore.Status) (int64, error) {
	if !status.IsTerminal() {
		return 0, fmt.Errorf("clear runs: status %q is not terminal", status)
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM framepipe_runs WHERE status = $1", string(status))
	if err != nil {
		return 0, fmt.Errorf("clear %s runs: %w", status, err)
	}
	return tag.RowsAffected(), nil
}

// MarkRunning moves a run from one of the allowed statuses into running under
// owner's lease and clears any failure.
func (s *Store) MarkRunning(ctx context.Context, id, owner string, from ...runstore.Status) error {
	if len(from) == 0 {
		from = []runstore.Status{runstore.StatusPending}
	}
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE framepipe_runs
         SET status = $1, owner = $2, last_heartbeat = $3, updated_at = $3, completed_at = NULL,
             failure_kind = NULL, failure_root_kind = NULL, failure_stage = NULL,
             failure_stage_index = NULL, failure_message = NULL, failure_attempts = NULL
         WHERE id = $4 AND status = ANY($5)`,
		string(runstore.StatusRunning), nullable(owner), now, id, statusStrings(from),
	)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: run %s is not in %v", runstore.ErrConflict, id, from))
	}
	return nil
}

// ClaimRun takes the lease on an active run when it is unowned, already held
// by owner, or expired relative to cutoff.
func (s *Store) ClaimRun(ctx context.Context, id, owner string, cutoff time.Time) error {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE framepipe_runs SET owner = $1, last_heartbeat = $2, updated_at = $2
         WHERE id = $3 AND status = ANY($4)
           AND (owner IS NULL OR owner = $1 OR last_heartbeat IS NULL OR last_heartbeat < $5)`,
		owner, now, id, activeStatuses(), cutoff.UTC(),
	)
	if err != nil {
		return fmt.Errorf("claim run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		run, getErr := s.GetRun(ctx, id)
		if getErr != nil {
			return getErr
		}
		if !run.Status.IsActive() {
			return fmt.Errorf("%w: run %s is %s", runstore.ErrConflict, id, run.Status)
		}
		return fmt.Errorf("%w: run %s owned by %s", runstore.ErrLeaseHeld, id, run.Owner)
	}
	return nil
}

// ReleaseRun drops owner's lease.
func (s *Store) ReleaseRun(ctx context.Context, id, owner string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE framepipe_runs SET owner = NULL, updated_at = $1 WHERE id = $2 AND owner = $3`,
		s.now().UTC(), id, owner,
	); err != nil {
		return fmt.Errorf("release run: %w", err)
	}
	return nil
}

// RenewLease refreshes owner's heartbeat on an active run.
func (s *Store) RenewLease(ctx context.Context, id, owner string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE framepipe_runs SET last_heartbeat = $1, updated_at = $1
         WHERE id = $2 AND owner = $3 AND status = ANY($4)`,
		s.now().UTC(), id, owner, activeStatuses(),
	)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: lease on %s lost", runstore.ErrLeaseHeld, id))
	}
	return nil
}

// UpdateProgress records advisory progress for status output.
func (s *Store) UpdateProgress(ctx context.Context, id, stageName string, percent float64, message string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE framepipe_runs SET progress_stage = $1, progress_percent = $2, progress_message = $3, updated_at = $4
         WHERE id = $5 AND status = $6`,
		nullable(stageName), percent, nullable(message), s.now().UTC(), id, string(runstore.StatusRunning),
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// AppendStageResult records the current stage's result and advances the stage
// index in one transaction, guarded by a compare-and-set on result.Index.
func (s *Store) AppendStageResult(ctx context.Context, id string, result runstore.StageResult) error {
	completedAt := result.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	var missing bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE framepipe_runs
             SET current_stage = current_stage + 1, progress_stage = NULL, progress_percent = 0,
                 progress_message = NULL, updated_at = $1
             WHERE id = $2 AND status = $3 AND current_stage = $4 AND current_stage < stage_count`,
			s.now().UTC(), id, string(runstore.StatusRunning), result.Index,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			missing = true
			return nil
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO framepipe_stage_results (run_id, stage_index, stage_name, output, attempts, completed_at)
             VALUES ($1, $2, $3, $4, $5, $6)`,
			id, result.Index, result.Name, string(result.Output), result.Attempts, completedAt.UTC(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append stage result: %w", err)
	}
	if missing {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: run %s is not running at stage %d", runstore.ErrConflict, id, result.Index))
	}
	return nil
}

// MarkCompleted finalizes a running run whose every stage has a result.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE framepipe_runs
         SET status = $1, owner = NULL, progress_stage = NULL, progress_percent = 100,
             progress_message = NULL, updated_at = $2, completed_at = $2
         WHERE id = $3 AND status = $4 AND current_stage = stage_count`,
		string(runstore.StatusCompleted), now, id, string(runstore.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: run %s cannot complete", runstore.ErrConflict, id))
	}
	return nil
}

// MarkFailed records a terminal failure on an active run.
func (s *Store) MarkFailed(ctx context.Context, id string, failure *runstore.Failure) error {
	if failure == nil {
		failure = &runstore.Failure{Kind: services.KindExecution, Message: "unknown failure"}
	}
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE framepipe_runs
         SET status = $1, owner = NULL, failure_kind = $2, failure_root_kind = $3, failure_stage = $4,
             failure_stage_index = $5, failure_message = $6, failure_attempts = $7,
             updated_at = $8, completed_at = $8
         WHERE id = $9 AND status = ANY($10)`,
		string(runstore.StatusFailed), string(failure.Kind), nullable(string(failure.RootKind)), nullable(failure.Stage),
		failure.StageIndex, failure.Message, failure.Attempts, now, id, activeStatuses(),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, id, fmt.Errorf("%w: run %s is not active", runstore.ErrConflict, id))
	}
	return nil
}

// StaleRuns returns active runs without a live lease.
func (s *Store) StaleRuns(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM framepipe_runs
         WHERE status = ANY($1)
           AND (owner IS NULL OR last_heartbeat IS NULL OR last_heartbeat < $2)
         ORDER BY created_at, id`,
		activeStatuses(), cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale runs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan stale runs: %w", err)
	}
	return ids, nil
}

func (s *Store) missingOrConflict(ctx context.Context, id string, conflict error) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM framepipe_runs WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("check run existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", runstore.ErrNotFound, id)
	}
	return conflict
}

func scanRun(row pgx.Row) (*runstore.Run, error) {
	var (
		run             runstore.Run
		status          string
		owner           *string
		progressStage   *string
		progressMessage *string
		failureKind     *string
		failureRootKind *string
		failureStage    *string
		failureIndex    *int
		failureMessage  *string
		failureAttempts *int
	)
	if err := row.Scan(
		&run.ID,
		&run.Pipeline,
		&run.Input,
		&status,
		&run.CurrentStage,
		&run.StageCount,
		&owner,
		&run.LastHeartbeat,
		&progressStage,
		&run.ProgressPercent,
		&progressMessage,
		&failureKind,
		&failureRootKind,
		&failureStage,
		&failureIndex,
		&failureMessage,
		&failureAttempts,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	); err != nil {
		return nil, err
	}
	run.Status = runstore.Status(status)
	run.Owner = deref(owner)
	run.ProgressStage = deref(progressStage)
	run.ProgressMessage = deref(progressMessage)
	if failureKind != nil {
		run.Failure = &runstore.Failure{
			Kind:     services.ParseKind(*failureKind),
			Stage:    deref(failureStage),
			Message:  deref(failureMessage),
			Attempts: derefInt(failureAttempts),
		}
		run.Failure.StageIndex = derefInt(failureIndex)
		if failureRootKind != nil {
			run.Failure.RootKind = services.ParseKind(*failureRootKind)
		}
	}
	return &run, nil
}

func statusStrings(statuses []runstore.Status) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

func activeStatuses() []string {
	return statusStrings([]runstore.Status{runstore.StatusPending, runstore.StatusRunning})
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func derefInt(value *int) int {
	if value == nil {
		return 0
	}
	return *value
}
