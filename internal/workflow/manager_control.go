package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"framepipe/internal/logging"
	"framepipe/internal/runstore"
	"framepipe/internal/services"
)

// Submit starts a run of the default pipeline on input and returns its id.
func (m *Manager) Submit(ctx context.Context, input string) (string, error) {
	m.mu.RLock()
	name := m.defaultPipeline
	m.mu.RUnlock()
	return m.SubmitPipeline(ctx, name, input)
}

// SubmitPipeline persists a pending run of the named pipeline, moves it to
// running under this manager's lease, and begins driving stage 0.
func (m *Manager) SubmitPipeline(ctx context.Context, name, input string) (string, error) {
	if !m.IsRunning() {
		return "", errManagerNotRunning
	}
	p, ok := m.pipeline(name)
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "", "submit", fmt.Sprintf("pipeline %q is not registered", name), nil)
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return "", services.Wrap(services.ErrInvalidInput, "", "submit", "pipeline input is empty", nil)
	}

	run := &runstore.Run{
		ID:         uuid.NewString(),
		Pipeline:   p.Name,
		Input:      input,
		StageCount: len(p.Stages),
	}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("submit run: %w", err)
	}
	if err := m.store.MarkRunning(ctx, run.ID, m.owner, runstore.StatusPending); err != nil {
		return run.ID, fmt.Errorf("start run: %w", err)
	}
	m.logger.Info("run submitted",
		logging.String(logging.FieldRunID, run.ID),
		logging.String("pipeline", p.Name),
		logging.String("input", input),
		logging.String(logging.FieldEventType, "run_submitted"),
	)
	if err := m.launch(run.ID); err != nil {
		return run.ID, err
	}
	return run.ID, nil
}

// Resume continues a run from its persisted stage index. Completed runs are
// returned untouched. Failed runs are reopened at the stage that failed.
// Pending and running runs are claimed when their lease is free, expired, or
// already ours.
func (m *Manager) Resume(ctx context.Context, id string) (*runstore.Run, error) {
	if !m.IsRunning() {
		return nil, errManagerNotRunning
	}
	run, err := m.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status == runstore.StatusCompleted {
		return run, nil
	}
	if m.isActive(id) {
		return run, nil
	}
	if _, ok := m.pipeline(run.Pipeline); !ok {
		return run, services.Wrap(services.ErrNotFound, "", "resume", fmt.Sprintf("pipeline %q is not registered", run.Pipeline), nil)
	}

	switch run.Status {
	case runstore.StatusFailed:
		if err := m.store.MarkRunning(ctx, id, m.owner, runstore.StatusFailed); err != nil {
			return run, fmt.Errorf("reopen failed run: %w", err)
		}
	default:
		if err := m.store.ClaimRun(ctx, id, m.owner, m.heartbeat.Cutoff()); err != nil {
			return run, err
		}
		if err := m.store.MarkRunning(ctx, id, m.owner, runstore.StatusPending, runstore.StatusRunning); err != nil {
			return run, fmt.Errorf("resume run: %w", err)
		}
	}
	m.logger.Info("run resumed",
		logging.String(logging.FieldRunID, id),
		logging.Int("stage_index", run.CurrentStage),
		logging.String("previous_status", string(run.Status)),
		logging.String(logging.FieldEventType, "run_resumed"),
	)
	if err := m.launch(id); err != nil {
		return run, err
	}
	return m.store.GetRun(ctx, id)
}

// Cancel stops a run and marks it failed with kind cancelled. A run driven
// by this manager has its in-flight activity cancelled first; any other
// active run is failed directly in the store.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.RLock()
	ar := m.active[id]
	m.mu.RUnlock()
	if ar != nil {
		ar.cancel(errCancelRequested)
		select {
		case <-ar.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		run, err := m.store.GetRun(ctx, id)
		if err != nil {
			return err
		}
		if run.Status == runstore.StatusCompleted {
			return fmt.Errorf("%w: run %s completed before cancellation took effect", runstore.ErrConflict, id)
		}
		return nil
	}

	run, err := m.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: run %s is already %s", runstore.ErrConflict, id, run.Status)
	}
	stageName := m.stageName(run, run.CurrentStage)
	cancelErr := services.Wrap(services.ErrCancelled, stageName, "cancel", "cancelled by request", nil)
	if err := m.store.MarkFailed(ctx, id, runstore.FailureFromError(cancelErr, stageName, run.CurrentStage, 0)); err != nil {
		return err
	}
	m.logger.Info("run cancelled",
		logging.String(logging.FieldRunID, id),
		logging.String(logging.FieldStage, stageName),
		logging.String(logging.FieldEventType, "run_cancelled"),
	)
	m.notify(id)
	return nil
}

func (m *Manager) stageName(run *runstore.Run, index int) string {
	p, ok := m.pipeline(run.Pipeline)
	if !ok || index < 0 || index >= len(p.Stages) {
		return ""
	}
	return p.Stages[index].Name
}

// IsNotRunning reports whether err came from calling into a stopped manager.
func IsNotRunning(err error) bool {
	return errors.Is(err, errManagerNotRunning)
}
