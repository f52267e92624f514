package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"framepipe/internal/logging"
	"framepipe/internal/retry"
	"framepipe/internal/runstore"
	"framepipe/internal/services"
	"framepipe/internal/stage"
	"framepipe/internal/worker"
)

// drive executes the remaining stages of run id in order. It returns when the
// run reaches a terminal state, the lease is lost, or the manager stops.
func (m *Manager) drive(ctx context.Context, id string) {
	storeCtx := context.WithoutCancel(ctx)
	logger := m.runLogger(ctx, id)

	run, err := m.store.GetRun(storeCtx, id)
	if err != nil {
		m.setLastError(err)
		logger.Error("failed to load run", logging.Error(err))
		return
	}
	p, ok := m.pipeline(run.Pipeline)
	if !ok {
		err := services.Wrap(services.ErrInvalidInput, "", "drive", fmt.Sprintf("pipeline %q is not registered", run.Pipeline), nil)
		m.failRun(storeCtx, logger, run, "", run.CurrentStage, 0, err)
		return
	}
	if run.StageCount != len(p.Stages) {
		err := services.Wrap(services.ErrInvalidInput, "", "drive",
			fmt.Sprintf("run has %d stages but pipeline %s has %d", run.StageCount, p.Name, len(p.Stages)), nil)
		m.failRun(storeCtx, logger, run, "", run.CurrentStage, 0, err)
		return
	}

	runCtx := ctx
	if p.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, p.RunTimeout, errRunTimeout)
		defer cancel()
	}
	leaseCtx, stopLease := context.WithCancel(runCtx)
	var leaseWG sync.WaitGroup
	leaseWG.Add(1)
	go m.heartbeat.StartLoop(leaseCtx, &leaseWG, id, func(error) { m.cancelActive(id, errLeaseLost) })
	endLease := sync.OnceFunc(func() {
		stopLease()
		leaseWG.Wait()
	})
	defer endLease()

	started := time.Now()
	for index := run.CurrentStage; index < len(p.Stages); index++ {
		spec := p.Stages[index]
		stageCtx := services.WithRequestID(services.WithStage(runCtx, spec.Name), uuid.NewString())
		stageLogger := logging.ForStage(m.runLogger(stageCtx, id), m.cfg.Logging.StageOverrides, spec.Name)

		payload, err := stageInput(spec, run.Input, run.Results)
		if err != nil {
			inputErr := services.Wrap(services.ErrInvalidInput, spec.Name, "build input", "stage input could not be computed", err)
			m.failRun(storeCtx, stageLogger, run, spec.Name, index, 0, inputErr)
			return
		}

		if err := m.store.UpdateProgress(storeCtx, id, spec.Name, 0, stageLabel(spec.Name)+" started"); err != nil {
			stageLogger.Debug("failed to persist stage start progress", logging.Error(err))
		}
		stageStart := time.Now()
		stageLogger.Info("stage started",
			logging.Int("stage_index", index),
			logging.String("stage_label", stageLabel(spec.Name)),
			logging.String(logging.FieldEventType, "stage_start"),
		)

		output, attempts, err := m.runStage(stageCtx, stageLogger, id, index, spec, payload)
		if err == nil {
			err = interrupted(runCtx)
		}
		if err != nil {
			endLease()
			m.handleStageError(runCtx, storeCtx, stageLogger, run, spec, index, attempts, err)
			return
		}

		result := runstore.StageResult{Index: index, Name: spec.Name, Output: output, Attempts: attempts, CompletedAt: time.Now().UTC()}
		if err := m.store.AppendStageResult(storeCtx, id, result); err != nil {
			m.setLastError(err)
			if errors.Is(err, runstore.ErrConflict) {
				logging.WarnWithContext(stageLogger, "stage result rejected; run advanced or stopped elsewhere", "stage_result_conflict",
					logging.Error(err),
				)
			} else {
				stageLogger.Error("failed to persist stage result", logging.Error(err))
			}
			return
		}
		run.Results = append(run.Results, result)
		run.CurrentStage = index + 1
		stageLogger.Info("stage completed",
			logging.Int("stage_index", index),
			logging.Int("attempts", attempts),
			logging.Duration("stage_duration", time.Since(stageStart)),
			logging.String(logging.FieldEventType, "stage_complete"),
		)
	}

	if err := interrupted(runCtx); err != nil {
		endLease()
		last := p.Stages[len(p.Stages)-1]
		m.handleStageError(runCtx, storeCtx, logger, run, last, len(p.Stages)-1, 0, err)
		return
	}
	endLease()
	if err := m.store.MarkCompleted(storeCtx, id); err != nil {
		m.setLastError(err)
		logger.Error("failed to mark run completed", logging.Error(err))
		return
	}
	logger.Info("run completed",
		logging.Int("stages", len(p.Stages)),
		logging.Duration("run_duration", time.Since(started)),
		logging.String(logging.FieldEventType, "run_complete"),
	)
}

// runStage dispatches one stage under its retry policy.
func (m *Manager) runStage(ctx context.Context, logger *slog.Logger, id string, index int, spec StageSpec, payload []byte) (stage.Output, int, error) {
	opts := retry.Options{
		Stage: spec.Name,
		Sleep: m.retrySleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("stage attempt failed; retrying",
				logging.Int("stage_index", index),
				logging.Int("attempt", attempt),
				logging.Duration("backoff", delay),
				logging.ErrorKind(err),
				logging.Error(err),
				logging.String(logging.FieldEventType, "retry_scheduled"),
			)
		},
	}
	return retry.Do(ctx, spec.Retry, opts, func(ctx context.Context, attempt int) (stage.Output, error) {
		return m.dispatcher.Dispatch(ctx, worker.Task{
			RunID:            id,
			Stage:            spec.Name,
			Attempt:          attempt,
			Payload:          payload,
			Timeout:          spec.Timeout,
			HeartbeatTimeout: spec.HeartbeatTimeout,
		})
	})
}

// interrupted returns the cause when runCtx ended for any reason other than
// shutdown. A stage that succeeds after that point must not advance the run.
// Results finished during shutdown are kept for recovery.
func interrupted(runCtx context.Context) error {
	if runCtx.Err() == nil {
		return nil
	}
	cause := context.Cause(runCtx)
	if errors.Is(cause, errShutdown) {
		return nil
	}
	return cause
}

func (m *Manager) cancelActive(id string, cause error) {
	m.mu.RLock()
	ar := m.active[id]
	m.mu.RUnlock()
	if ar != nil {
		ar.cancel(cause)
	}
}
