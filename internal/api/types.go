package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Run describes a pipeline run in a transport-friendly format.
type Run struct {
	ID            string        `json:"id"`
	Pipeline      string        `json:"pipeline"`
	Input         string        `json:"input"`
	Status        string        `json:"status"`
	CurrentStage  int           `json:"currentStage"`
	StageCount    int           `json:"stageCount"`
	Owner         string        `json:"owner,omitempty"`
	Progress      RunProgress   `json:"progress"`
	Results       []StageResult `json:"results,omitempty"`
	Failure       *Failure      `json:"failure,omitempty"`
	CreatedAt     string        `json:"createdAt,omitempty"`
	UpdatedAt     string        `json:"updatedAt,omitempty"`
	CompletedAt   string        `json:"completedAt,omitempty"`
	LastHeartbeat string        `json:"lastHeartbeat,omitempty"`
}

// RunProgress captures the latest persisted heartbeat of a run.
type RunProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// StageResult is one persisted stage output.
type StageResult struct {
	Index       int             `json:"index"`
	Name        string          `json:"name"`
	Attempts    int             `json:"attempts"`
	CompletedAt string          `json:"completedAt,omitempty"`
	Output      json.RawMessage `json:"output"`
}

// Failure explains why a run stopped.
type Failure struct {
	Kind       string `json:"kind"`
	RootKind   string `json:"rootKind,omitempty"`
	Stage      string `json:"stage,omitempty"`
	StageIndex int    `json:"stageIndex"`
	Message    string `json:"message"`
	Attempts   int    `json:"attempts,omitempty"`
}

// WorkflowStatus summarizes orchestrator state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Owner       string         `json:"owner"`
	Pipelines   []string       `json:"pipelines"`
	ActiveRuns  []string       `json:"activeRuns"`
	RunStats    map[string]int `json:"runStats"`
	LastError   string         `json:"lastError,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult is one readiness check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Worker describes a registered worker and its load.
type Worker struct {
	ID          string   `json:"id"`
	Stages      []string `json:"stages"`
	Concurrency int      `json:"concurrency"`
	Busy        int      `json:"busy"`
}

// WorkersResponse lists registered workers and queued tasks per stage.
type WorkersResponse struct {
	Workers []Worker       `json:"workers"`
	Queued  map[string]int `json:"queued,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StoreBackend string             `json:"storeBackend"`
	StorePath    string             `json:"storePath,omitempty"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// SubmitRequest asks the daemon to start a run.
type SubmitRequest struct {
	Input    string `json:"input"`
	Pipeline string `json:"pipeline,omitempty"`
}

// SubmitResponse returns the id of the new run.
type SubmitResponse struct {
	ID string `json:"id"`
}

// RunResponse wraps a single run.
type RunResponse struct {
	Run Run `json:"run"`
}

// RunListResponse wraps a collection of runs.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// ResultResponse carries the outcome of a result request. Outputs is set when
// the run completed, Failure when it failed, and Pending when the caller's
// timeout elapsed first.
type ResultResponse struct {
	ID      string            `json:"id"`
	Status  string            `json:"status"`
	Pending bool              `json:"pending,omitempty"`
	Outputs []json.RawMessage `json:"outputs,omitempty"`
	Failure *Failure          `json:"failure,omitempty"`
}

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
