package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"framepipe/internal/logging"
	"framepipe/internal/runstore"
	"framepipe/internal/services"
)

// handleStageError decides what a failed stage means for the run. Shutdown and
// lease loss leave the run for another orchestrator; cancellation, run timeout,
// and unrecoverable stage failures fail the run.
func (m *Manager) handleStageError(runCtx, storeCtx context.Context, logger *slog.Logger, run *runstore.Run, spec StageSpec, index, attempts int, stageErr error) {
	if runCtx.Err() != nil {
		cause := context.Cause(runCtx)
		switch {
		case errors.Is(cause, errShutdown):
			logger.Info("stage interrupted by shutdown; run left for recovery",
				logging.Int("stage_index", index),
				logging.String(logging.FieldEventType, "stage_interrupted"),
			)
			if err := m.store.ReleaseRun(storeCtx, run.ID, m.owner); err != nil {
				logger.Warn("failed to release run lease", logging.Error(err))
			}
			return
		case errors.Is(cause, errLeaseLost):
			logging.WarnWithContext(logger, "stopped driving run after losing its lease", "run_abandoned",
				logging.Int("stage_index", index),
			)
			return
		case errors.Is(cause, errCancelRequested):
			stageErr = services.Wrap(services.ErrCancelled, spec.Name, "cancel", "cancelled by request", stageErr)
		case errors.Is(cause, errRunTimeout):
			p, _ := m.pipeline(run.Pipeline)
			stageErr = services.Wrap(services.ErrTimeout, spec.Name, "run",
				fmt.Sprintf("run exceeded %s", p.RunTimeout), cause)
		default:
			stageErr = services.Wrap(services.ErrCancelled, spec.Name, "drive", "run context ended", cause)
		}
	}
	m.failRun(storeCtx, logger, run, spec.Name, index, attempts, stageErr)
}

// failRun persists the terminal failure and logs it.
func (m *Manager) failRun(ctx context.Context, logger *slog.Logger, run *runstore.Run, stageName string, index, attempts int, stageErr error) {
	failure := runstore.FailureFromError(stageErr, stageName, index, attempts)
	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = failure.Message
	}
	m.setLastError(stageErr)

	attrs := []logging.Attr{
		logging.Int("stage_index", index),
		logging.Int("attempts", attempts),
		logging.String(logging.FieldErrorKind, string(failure.Kind)),
		logging.String("root_kind", string(failure.RootKind)),
		logging.String("error_message", message),
		logging.Alert("run_failure"),
		logging.String(logging.FieldErrorHint, failureHint(failure)),
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "run_failed"),
	}
	if failure.Kind == services.KindCancelled {
		logger.Info("run cancelled", logging.Args(attrs...)...)
	} else {
		logger.Error("run failed", logging.Args(attrs...)...)
	}

	if err := m.store.MarkFailed(ctx, run.ID, failure); err != nil {
		if errors.Is(err, runstore.ErrConflict) {
			logger.Debug("run already terminal; failure not recorded", logging.Error(err))
			return
		}
		logger.Error("failed to persist run failure", logging.Error(err))
	}
}

func failureHint(f *runstore.Failure) string {
	kind := f.Kind
	if kind == services.KindRetriesExhausted && f.RootKind != "" {
		kind = f.RootKind
	}
	switch kind {
	case services.KindInvalidInput:
		return "check the submitted input; resume after correcting it"
	case services.KindNotFound:
		return "check that the referenced file exists"
	case services.KindTimeout:
		return "raise the stage timeout or check the worker host load"
	case services.KindCancelled:
		return "run was cancelled; resume to continue"
	default:
		return "check the run log for the failing command"
	}
}
