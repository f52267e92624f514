package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"framepipe/internal/logging"
	"framepipe/internal/runstore"
	"framepipe/internal/stage"
)

// ErrStillRunning is returned by Wait and Result when the caller's context
// ends before the run reaches a terminal state.
var ErrStillRunning = errors.New("run has not finished")

// Summary represents lightweight workflow diagnostics.
type Summary struct {
	Running     bool                    `json:"running"`
	Owner       string                  `json:"owner"`
	Pipelines   []string                `json:"pipelines"`
	ActiveRuns  []string                `json:"active_runs"`
	LastError   string                  `json:"last_error,omitempty"`
	RunStats    runstore.StatusSummary  `json:"run_stats"`
	StageHealth map[string]stage.Health `json:"stage_health,omitempty"`
}

// Summary returns the latest workflow information.
func (m *Manager) Summary(ctx context.Context) Summary {
	m.mu.RLock()
	summary := Summary{Running: m.running, Owner: m.owner}
	for name := range m.pipelines {
		summary.Pipelines = append(summary.Pipelines, name)
	}
	for id := range m.active {
		summary.ActiveRuns = append(summary.ActiveRuns, id)
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()
	sort.Strings(summary.Pipelines)
	sort.Strings(summary.ActiveRuns)

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read run stats", logging.Error(err))
	}
	summary.RunStats = stats
	if reporter, ok := m.dispatcher.(healthReporter); ok {
		summary.StageHealth = reporter.HealthChecks(ctx)
	}
	return summary
}

// Status returns the lifecycle state of a run.
func (m *Manager) Status(ctx context.Context, id string) (runstore.Status, error) {
	run, err := m.store.GetRun(ctx, id)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

// Describe returns the full persisted run record.
func (m *Manager) Describe(ctx context.Context, id string) (*runstore.Run, error) {
	return m.store.GetRun(ctx, id)
}

// List returns runs filtered by status, newest first.
func (m *Manager) List(ctx context.Context, statuses ...runstore.Status) ([]*runstore.Run, error) {
	return m.store.ListRuns(ctx, statuses...)
}

// Progress returns the latest heartbeat observed for a run driven here.
func (m *Manager) Progress(id string) (stage.HeartbeatRecord, bool) {
	return m.heartbeat.Latest(id)
}

// Wait blocks until the run is terminal or ctx ends, and returns the run as
// last read. A terminal run returns immediately.
func (m *Manager) Wait(ctx context.Context, id string) (*runstore.Run, error) {
	for {
		ch := m.watch(id)
		run, err := m.store.GetRun(ctx, id)
		if err != nil {
			m.unwatch(id, ch)
			return nil, err
		}
		if run.Status.IsTerminal() {
			m.unwatch(id, ch)
			return run, nil
		}
		timer := time.NewTimer(m.resultPoll)
		select {
		case <-ch:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			m.unwatch(id, ch)
			return run, fmt.Errorf("%w: %s is %s (%w)", ErrStillRunning, id, run.Status, ctx.Err())
		}
		timer.Stop()
		m.unwatch(id, ch)
	}
}

// Result waits for the run and returns every stage output in stage order.
// A failed run returns its persisted *runstore.Failure as the error.
func (m *Manager) Result(ctx context.Context, id string) ([]json.RawMessage, error) {
	run, err := m.Wait(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status == runstore.StatusFailed {
		if run.Failure != nil {
			return nil, run.Failure
		}
		return nil, fmt.Errorf("run %s failed without a recorded failure", id)
	}
	return run.Outputs(), nil
}

func (m *Manager) watch(id string) chan struct{} {
	ch := make(chan struct{})
	m.mu.Lock()
	m.watchers[id] = append(m.watchers[id], ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) unwatch(id string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := slices.DeleteFunc(m.watchers[id], func(c chan struct{}) bool { return c == ch })
	if len(list) == 0 {
		delete(m.watchers, id)
		return
	}
	m.watchers[id] = list
}

// notify wakes every Wait call on run id.
func (m *Manager) notify(id string) {
	m.mu.Lock()
	list := m.watchers[id]
	delete(m.watchers, id)
	m.mu.Unlock()
	for _, ch := range list {
		close(ch)
	}
}
