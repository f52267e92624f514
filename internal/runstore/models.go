package runstore

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"framepipe/internal/services"
)

// Status represents the lifecycle of a pipeline run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}

// AllStatuses returns every run status in lifecycle order.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	return status, slices.Contains(allStatuses, status)
}

// IsTerminal reports whether a run in this status will never change again
// without an explicit resume.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether a run in this status is still owed execution.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// StageResult is the persisted output of one completed stage. Results are
// immutable once written.
type StageResult struct {
	Index       int             `json:"index"`
	Name        string          `json:"name"`
	Output      json.RawMessage `json:"output"`
	Attempts    int             `json:"attempts"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Failure records why a run stopped.
type Failure struct {
	Kind       services.Kind `json:"kind"`
	RootKind   services.Kind `json:"root_kind,omitempty"`
	Stage      string        `json:"stage,omitempty"`
	StageIndex int           `json:"stage_index"`
	Message    string        `json:"message"`
	Attempts   int           `json:"attempts,omitempty"`
}

// Error renders the failure as a one-line message.
func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if f.Stage != "" {
		return fmt.Sprintf("%s (%s): %s", f.Stage, f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap exposes the persisted classification so services.KindOf and
// services.RootKind work on a reloaded failure.
func (f *Failure) Unwrap() []error {
	if f == nil || f.Kind == "" {
		return nil
	}
	errs := []error{f.Kind.Marker()}
	if f.RootKind != "" && f.RootKind != f.Kind {
		errs = append(errs, f.RootKind.Marker())
	}
	return errs
}

// FailureFromError builds a Failure from a classified stage error.
func FailureFromError(err error, stageName string, index, attempts int) *Failure {
	details := services.Details(err)
	kind := details.Kind
	if kind == "" {
		kind = services.KindExecution
	}
	message := strings.TrimSpace(err.Error())
	return &Failure{
		Kind:       kind,
		RootKind:   details.RootKind,
		Stage:      stageName,
		StageIndex: index,
		Message:    message,
		Attempts:   attempts,
	}
}

// Run is the durable record of one pipeline execution.
type Run struct {
	ID              string
	Pipeline        string
	Input           string
	Status          Status
	CurrentStage    int
	StageCount      int
	Results         []StageResult
	Failure         *Failure
	Owner           string
	LastHeartbeat   *time.Time
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// Outputs returns the stage outputs in stage order.
func (r *Run) Outputs() []json.RawMessage {
	if r == nil {
		return nil
	}
	out := make([]json.RawMessage, 0, len(r.Results))
	for _, result := range r.Results {
		out = append(out, result.Output)
	}
	return out
}

// FinalOutput returns the last stage's output for a completed run.
func (r *Run) FinalOutput() json.RawMessage {
	if r == nil || r.Status != StatusCompleted || len(r.Results) == 0 {
		return nil
	}
	return r.Results[len(r.Results)-1].Output
}

// StatusSummary counts runs per status.
type StatusSummary map[Status]int

// Total returns the number of runs across every status.
func (s StatusSummary) Total() int {
	total := 0
	for _, count := range s {
		total += count
	}
	return total
}
