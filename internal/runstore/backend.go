package runstore

import (
	"context"
	"time"
)

// Backend is the run persistence contract shared by the SQLite store and the
// postgres subpackage.
type Backend interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, statuses ...Status) ([]*Run, error)
	Stats(ctx context.Context) (StatusSummary, error)
	RemoveRun(ctx context.Context, id string) error
	ClearStatus(ctx context.Context, status Status) (int64, error)

	MarkRunning(ctx context.Context, id, owner string, from ...Status) error
	ClaimRun(ctx context.Context, id, owner string, cutoff time.Time) error
	ReleaseRun(ctx context.Context, id, owner string) error
	RenewLease(ctx context.Context, id, owner string) error
	UpdateProgress(ctx context.Context, id, stageName string, percent float64, message string) error
	AppendStageResult(ctx context.Context, id string, result StageResult) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, failure *Failure) error
	StaleRuns(ctx context.Context, cutoff time.Time) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

var _ Backend = (*Store)(nil)
