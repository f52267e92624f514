package api

import (
	"slices"
	"time"

	"framepipe/internal/deps"
	"framepipe/internal/preflight"
	"framepipe/internal/runstore"
	"framepipe/internal/stage"
	"framepipe/internal/worker"
	"framepipe/internal/workflow"
)

// FromRun converts a run record to its API representation.
func FromRun(run *runstore.Run) Run {
	if run == nil {
		return Run{}
	}
	dto := Run{
		ID:           run.ID,
		Pipeline:     run.Pipeline,
		Input:        run.Input,
		Status:       string(run.Status),
		CurrentStage: run.CurrentStage,
		StageCount:   run.StageCount,
		Owner:        run.Owner,
		Progress: RunProgress{
			Stage:   run.ProgressStage,
			Percent: run.ProgressPercent,
			Message: run.ProgressMessage,
		},
		Failure:   FromFailure(run.Failure),
		CreatedAt: FormatTime(run.CreatedAt),
		UpdatedAt: FormatTime(run.UpdatedAt),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = FormatTime(*run.CompletedAt)
	}
	if run.LastHeartbeat != nil {
		dto.LastHeartbeat = FormatTime(*run.LastHeartbeat)
	}
	for _, result := range run.Results {
		dto.Results = append(dto.Results, StageResult{
			Index:       result.Index,
			Name:        result.Name,
			Attempts:    result.Attempts,
			CompletedAt: FormatTime(result.CompletedAt),
			Output:      result.Output,
		})
	}
	return dto
}

// FromRuns converts a list of run records.
func FromRuns(runs []*runstore.Run) []Run {
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		if run == nil {
			continue
		}
		out = append(out, FromRun(run))
	}
	return out
}

// FromFailure converts a persisted failure; nil stays nil.
func FromFailure(f *runstore.Failure) *Failure {
	if f == nil {
		return nil
	}
	return &Failure{
		Kind:       string(f.Kind),
		RootKind:   string(f.RootKind),
		Stage:      f.Stage,
		StageIndex: f.StageIndex,
		Message:    f.Message,
		Attempts:   f.Attempts,
	}
}

// NewResultResponse shapes the outcome of a result request. pending means the
// caller's wait ended before the run reached a terminal state.
func NewResultResponse(id string, run *runstore.Run, pending bool) ResultResponse {
	resp := ResultResponse{ID: id, Pending: pending}
	if run != nil {
		resp.Status = string(run.Status)
	}
	switch {
	case pending || run == nil:
	case run.Status == runstore.StatusFailed:
		resp.Failure = FromFailure(run.Failure)
	default:
		resp.Outputs = run.Outputs()
	}
	return resp
}

// FromSummary converts the orchestrator summary.
func FromSummary(summary workflow.Summary) WorkflowStatus {
	return WorkflowStatus{
		Running:     summary.Running,
		Owner:       summary.Owner,
		Pipelines:   summary.Pipelines,
		ActiveRuns:  summary.ActiveRuns,
		RunStats:    MergeRunStats(summary.RunStats),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
}

// MergeRunStats returns counts for every known status, including zeros.
func MergeRunStats(stats runstore.StatusSummary) map[string]int {
	out := make(map[string]int, len(runstore.AllStatuses()))
	for _, status := range runstore.AllStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// StageHealthSlice returns stage health ordered by stage name.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromSnapshot converts a worker runtime snapshot.
func FromSnapshot(snap worker.Snapshot) WorkersResponse {
	resp := WorkersResponse{Workers: make([]Worker, 0, len(snap.Workers))}
	for _, info := range snap.Workers {
		resp.Workers = append(resp.Workers, Worker{
			ID:          info.ID,
			Stages:      info.Stages,
			Concurrency: info.Concurrency,
			Busy:        info.Busy,
		})
	}
	if len(snap.Queued) > 0 {
		resp.Queued = snap.Queued
	}
	return resp
}

// FromDependencies converts binary availability results.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return out
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
