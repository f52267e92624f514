package worker

import (
	"context"
	"sort"

	"framepipe/internal/stage"
)

// WorkerInfo describes one registered worker.
type WorkerInfo struct {
	ID          string   `json:"id"`
	Stages      []string `json:"stages"`
	Concurrency int      `json:"concurrency"`
	Busy        int      `json:"busy"`
}

// Snapshot is a point-in-time view of the runtime.
type Snapshot struct {
	Workers []WorkerInfo   `json:"workers"`
	Queued  map[string]int `json:"queued"`
}

// Snapshot reports registered workers, their busy slots, and queued tasks per
// stage.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{Queued: make(map[string]int, len(r.queues))}
	for _, ws := range r.workers {
		snap.Workers = append(snap.Workers, WorkerInfo{
			ID:          ws.id,
			Stages:      sortedKeys(ws.executors),
			Concurrency: ws.concurrency,
			Busy:        ws.busy,
		})
	}
	sort.Slice(snap.Workers, func(i, j int) bool { return snap.Workers[i].ID < snap.Workers[j].ID })
	for name, queue := range r.queues {
		if len(queue) > 0 {
			snap.Queued[name] = len(queue)
		}
	}
	return snap
}

// HealthChecks asks every executor that supports it for readiness, keyed by
// stage name. When several workers serve a stage the first unhealthy report
// wins.
func (r *Runtime) HealthChecks(ctx context.Context) map[string]stage.Health {
	r.mu.Lock()
	checkers := make(map[string][]stage.HealthChecker)
	for _, ws := range r.workers {
		for name, exec := range ws.executors {
			if hc, ok := exec.(stage.HealthChecker); ok {
				checkers[name] = append(checkers[name], hc)
			}
		}
	}
	r.mu.Unlock()

	health := make(map[string]stage.Health, len(checkers))
	for name, list := range checkers {
		for _, hc := range list {
			result := hc.HealthCheck(ctx)
			current, seen := health[name]
			if !seen || (current.Ready && !result.Ready) {
				health[name] = result
			}
		}
	}
	return health
}
