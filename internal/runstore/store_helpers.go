package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"framepipe/internal/services"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const runColumns = "id, pipeline, input, status, current_stage, stage_count, owner, last_heartbeat, progress_stage, progress_percent, progress_message, failure_kind, failure_root_kind, failure_stage, failure_stage_index, failure_message, failure_attempts, created_at, updated_at, completed_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run              Run
		statusStr        string
		owner            sql.NullString
		lastHeartbeatRaw sql.NullString
		progressStage    sql.NullString
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		failureKind      sql.NullString
		failureRootKind  sql.NullString
		failureStage     sql.NullString
		failureIndex     sql.NullInt64
		failureMessage   sql.NullString
		failureAttempts  sql.NullInt64
		createdRaw       string
		updatedRaw       string
		completedRaw     sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Pipeline,
		&run.Input,
		&statusStr,
		&run.CurrentStage,
		&run.StageCount,
		&owner,
		&lastHeartbeatRaw,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&failureKind,
		&failureRootKind,
		&failureStage,
		&failureIndex,
		&failureMessage,
		&failureAttempts,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	run.Status = Status(statusStr)
	run.Owner = owner.String
	run.ProgressStage = progressStage.String
	run.ProgressPercent = progressPercent.Float64
	run.ProgressMessage = progressMessage.String
	if failureKind.Valid {
		run.Failure = &Failure{
			Kind:       services.ParseKind(failureKind.String),
			Stage:      failureStage.String,
			StageIndex: int(failureIndex.Int64),
			Message:    failureMessage.String,
			Attempts:   int(failureAttempts.Int64),
		}
		if failureRootKind.Valid {
			run.Failure.RootKind = services.ParseKind(failureRootKind.String)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		run.UpdatedAt = updated
	}
	run.LastHeartbeat = parseNullableTime(lastHeartbeatRaw)
	run.CompletedAt = parseNullableTime(completedRaw)
	return &run, nil
}

func (s *Store) loadResults(ctx context.Context, runID string) ([]StageResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage_index, stage_name, output, attempts, completed_at
         FROM stage_results WHERE run_id = ? ORDER BY stage_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stage results: %w", err)
	}
	defer rows.Close()

	var results []StageResult
	for rows.Next() {
		var (
			result       StageResult
			output       string
			completedRaw string
		)
		if err := rows.Scan(&result.Index, &result.Name, &output, &result.Attempts, &completedRaw); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		result.Output = []byte(output)
		if completed, err := parseTimeString(completedRaw); err == nil {
			result.CompletedAt = completed
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// missingOrConflict distinguishes a compare-and-set miss on an existing run
// from a missing run.
func (s *Store) missingOrConflict(ctx context.Context, id string, conflict error) error {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM runs WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check run existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return conflict
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
