package workflow

import (
	"context"
	"errors"
	"time"

	"framepipe/internal/logging"
	"framepipe/internal/runstore"
	"framepipe/internal/services"
)

var (
	errShutdown          = errors.New("orchestrator shutting down")
	errCancelRequested   = errors.New("cancellation requested")
	errLeaseLost         = errors.New("run lease lost")
	errRunTimeout        = errors.New("run timeout elapsed")
	errManagerNotRunning = errors.New("workflow manager is not running")
)

// Start begins background processing: it recovers runs left behind by a
// previous process or an expired lease, then keeps reclaiming on the
// configured interval.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.pipelines) == 0 {
		m.mu.Unlock()
		return errors.New("workflow pipelines not configured")
	}
	if _, ok := m.pipelines[m.defaultPipeline]; !ok {
		m.mu.Unlock()
		return errors.New("default pipeline " + m.defaultPipeline + " is not registered")
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	m.baseCtx = runCtx
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("workflow started",
		logging.String("owner", m.owner),
		logging.String("pipeline", m.defaultPipeline),
		logging.String(logging.FieldEventType, "workflow_start"),
	)
	m.recoverRuns(runCtx)
	go m.runReclaimer(runCtx)
	return nil
}

// Stop interrupts in-flight runs without failing them, releases their leases,
// and waits for every run goroutine to return. Interrupted runs stay running
// in the store and are resumed by the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel(errShutdown)
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stop"))
}

// IsRunning reports whether Start has been called without a matching Stop.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) runReclaimer(ctx context.Context) {
	defer m.wg.Done()
	interval := m.reclaimInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recoverRuns(ctx)
		}
	}
}

// recoverRuns resumes active runs that no live orchestrator holds, plus runs
// this owner held before a crash.
func (m *Manager) recoverRuns(ctx context.Context) {
	candidates, err := m.store.StaleRuns(ctx, m.heartbeat.Cutoff())
	if err != nil {
		if ctx.Err() == nil {
			m.setLastError(err)
			logging.WarnWithContext(m.logger, "reclaim stale runs failed; stuck runs may remain", "reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check run store access"),
			)
		}
		return
	}
	owned, err := m.store.ListRuns(ctx, runstore.StatusPending, runstore.StatusRunning)
	if err == nil {
		for _, run := range owned {
			if run.Owner == m.owner {
				candidates = append(candidates, run.ID)
			}
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	recovered := 0
	for _, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if m.isActive(id) {
			continue
		}
		if _, err := m.Resume(ctx, id); err != nil {
			if errors.Is(err, runstore.ErrLeaseHeld) || errors.Is(err, runstore.ErrConflict) || ctx.Err() != nil {
				continue
			}
			m.logger.Warn("resume of stale run failed",
				logging.String(logging.FieldRunID, id),
				logging.Error(err),
				logging.String(logging.FieldEventType, "reclaim_resume_failed"),
			)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		m.logger.Info("reclaimed stale runs",
			logging.Int("count", recovered),
			logging.String(logging.FieldEventType, "runs_reclaimed"),
		)
	}
}

func (m *Manager) isActive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[id]
	return ok
}

// launch starts driving run id in the background. The caller must already
// hold the run's lease.
func (m *Manager) launch(id string) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return errManagerNotRunning
	}
	if _, exists := m.active[id]; exists {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancelCause(services.WithRunID(m.baseCtx, id))
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	m.active[id] = ar
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer close(ar.done)
		defer m.finishActive(id)
		m.drive(ctx, id)
	}()
	return nil
}

func (m *Manager) finishActive(id string) {
	m.mu.Lock()
	if ar, ok := m.active[id]; ok {
		ar.cancel(nil)
		delete(m.active, id)
	}
	m.mu.Unlock()
	m.heartbeat.Forget(id)
	m.notify(id)
}
