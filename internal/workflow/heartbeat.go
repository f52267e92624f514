package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"framepipe/internal/logging"
	"framepipe/internal/runstore"
	"framepipe/internal/stage"
)

const progressWriteTimeout = 5 * time.Second

// HeartbeatMonitor tracks activity liveness and keeps run leases fresh.
type HeartbeatMonitor struct {
	store             runstore.Backend
	logger            *slog.Logger
	owner             string
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	sampler           *logging.ProgressSampler

	mu     sync.Mutex
	latest map[string]stage.HeartbeatRecord
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store runstore.Backend, logger *slog.Logger, owner string, interval, timeout time.Duration) *HeartbeatMonitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HeartbeatMonitor{
		store:             store,
		logger:            logging.NewComponentLogger(logger, "workflow-heartbeat"),
		owner:             owner,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
		sampler:           logging.NewProgressSampler(10),
		latest:            make(map[string]stage.HeartbeatRecord),
	}
}

// Observe records an activity heartbeat, persists it as run progress, and
// logs it when it crosses a new progress bucket.
func (h *HeartbeatMonitor) Observe(record stage.HeartbeatRecord) {
	h.mu.Lock()
	h.latest[record.RunID] = record
	h.mu.Unlock()

	percent := record.Progress * 100
	ctx, cancel := context.WithTimeout(context.Background(), progressWriteTimeout)
	defer cancel()
	if err := h.store.UpdateProgress(ctx, record.RunID, record.Stage, percent, record.Message); err != nil {
		h.logger.Debug("progress update failed",
			logging.String(logging.FieldRunID, record.RunID),
			logging.Error(err),
		)
	}
	if h.sampler.ShouldLog(record.RunID, percent, record.Stage) {
		h.logger.Info("stage progress",
			logging.String(logging.FieldRunID, record.RunID),
			logging.String(logging.FieldStage, record.Stage),
			logging.String(logging.FieldWorker, record.Worker),
			logging.Float64("progress_percent", percent),
			logging.String("progress_message", record.Message),
			logging.String(logging.FieldEventType, "stage_progress"),
		)
	}
}

// Latest returns the most recent heartbeat observed for runID.
func (h *HeartbeatMonitor) Latest(runID string) (stage.HeartbeatRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	record, ok := h.latest[runID]
	return record, ok
}

// Forget drops liveness state for a run that is no longer driven here.
func (h *HeartbeatMonitor) Forget(runID string) {
	h.mu.Lock()
	delete(h.latest, runID)
	h.mu.Unlock()
	h.sampler.Forget(runID)
}

// Cutoff returns the heartbeat time before which a lease counts as expired.
func (h *HeartbeatMonitor) Cutoff() time.Time {
	return time.Now().Add(-h.heartbeatTimeout)
}

// StartLoop renews the lease on runID until ctx ends. lost is called once if
// the lease passes to another owner or the run leaves the active states.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, runID string, lost func(error)) {
	defer wg.Done()
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.RenewLease(ctx, runID, h.owner)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				logger.Debug("lease renewal cancelled")
				return
			case errors.Is(err, runstore.ErrLeaseHeld), errors.Is(err, runstore.ErrNotFound):
				logging.WarnWithContext(logger, "run lease lost", "lease_lost",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "another orchestrator may have reclaimed the run"),
				)
				if lost != nil {
					lost(err)
				}
				return
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
