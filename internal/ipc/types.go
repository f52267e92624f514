package ipc

import "framepipe/internal/api"

// Run mirrors the HTTP API run DTO for IPC callers.
type Run = api.Run

// Failure mirrors the HTTP API failure DTO.
type Failure = api.Failure

// Worker describes a registered worker.
type Worker = api.Worker

// StageHealth describes readiness of a pipeline stage.
type StageHealth = api.StageHealth

// DependencyStatus describes availability of an external dependency.
type DependencyStatus = api.DependencyStatus

// CheckResult is one readiness check outcome.
type CheckResult = api.CheckResult

// SubmitRequest starts a run. An empty Pipeline selects the default.
type SubmitRequest struct {
	Input    string `json:"input"`
	Pipeline string `json:"pipeline"`
}

// SubmitResponse returns the new run id.
type SubmitResponse struct {
	ID string `json:"id"`
}

// RunRequest addresses a single run by id.
type RunRequest struct {
	ID string `json:"id"`
}

// StatusResponse reports a run's lifecycle state.
type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DescribeResponse contains a single run.
type DescribeResponse struct {
	Run Run `json:"run"`
}

// ResultRequest waits up to TimeoutMillis for a run to finish. Zero reads the
// current state without waiting.
type ResultRequest struct {
	ID            string `json:"id"`
	TimeoutMillis int64  `json:"timeout_millis"`
}

// ResultResponse carries outputs, a failure, or a pending marker.
type ResultResponse = api.ResultResponse

// CancelResponse reports the run after cancellation.
type CancelResponse struct {
	Run Run `json:"run"`
}

// ResumeResponse reports the run after it was resumed.
type ResumeResponse struct {
	Run Run `json:"run"`
}

// ListRequest filters runs by status.
type ListRequest struct {
	Statuses []string `json:"statuses"`
}

// ListResponse contains runs, newest first.
type ListResponse struct {
	Runs []Run `json:"runs"`
}

// WorkersRequest fetches the worker runtime snapshot.
type WorkersRequest struct{}

// WorkersResponse lists workers and queued tasks per stage.
type WorkersResponse = api.WorkersResponse

// DaemonStatusRequest fetches daemon status.
type DaemonStatusRequest struct{}

// DaemonStatusResponse represents combined daemon/workflow status information.
type DaemonStatusResponse = api.DaemonStatus

// HealthRequest runs the readiness checks inside the daemon.
type HealthRequest struct{}

// HealthResponse lists readiness check outcomes.
type HealthResponse struct {
	Checks []CheckResult `json:"checks"`
}

// RemoveResponse reports whether the run was removed.
type RemoveResponse struct {
	Removed bool `json:"removed"`
}

// ClearCompletedRequest removes completed runs.
type ClearCompletedRequest struct{}

// ClearCompletedResponse reports number of removed runs.
type ClearCompletedResponse struct {
	Removed int64 `json:"removed"`
}
