package api

import (
	"encoding/json"
	"testing"
	"time"

	"framepipe/internal/runstore"
	"framepipe/internal/services"
	"framepipe/internal/stage"
	"framepipe/internal/worker"
	"framepipe/internal/workflow"
)

func TestFromRunIncludesResultsAndFailure(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &runstore.Run{
		ID:              "run-1",
		Pipeline:        "video",
		Input:           "/videos/clip.mp4",
		Status:          runstore.StatusFailed,
		CurrentStage:    1,
		StageCount:      3,
		ProgressStage:   "extract",
		ProgressPercent: 40,
		ProgressMessage: "12/30 frames",
		CreatedAt:       created,
		UpdatedAt:       created.Add(time.Minute),
		Results: []runstore.StageResult{{
			Index:       0,
			Name:        "analyze",
			Output:      json.RawMessage(`{"fps":30}`),
			Attempts:    1,
			CompletedAt: created.Add(10 * time.Second),
		}},
		Failure: &runstore.Failure{
			Kind:       services.KindRetriesExhausted,
			RootKind:   services.KindExecution,
			Stage:      "extract",
			StageIndex: 1,
			Message:    "ffmpeg exited 1",
			Attempts:   3,
		},
	}

	dto := FromRun(run)
	if dto.Status != "failed" || dto.CurrentStage != 1 || dto.StageCount != 3 {
		t.Fatalf("unexpected run fields: %+v", dto)
	}
	if dto.CreatedAt != "2026-03-01T12:00:00.000Z" {
		t.Fatalf("unexpected createdAt %q", dto.CreatedAt)
	}
	if dto.Progress.Stage != "extract" || dto.Progress.Percent != 40 {
		t.Fatalf("unexpected progress: %+v", dto.Progress)
	}
	if len(dto.Results) != 1 || string(dto.Results[0].Output) != `{"fps":30}` {
		t.Fatalf("unexpected results: %+v", dto.Results)
	}
	if dto.Failure == nil || dto.Failure.Kind != "retries_exhausted" || dto.Failure.RootKind != "execution_error" {
		t.Fatalf("unexpected failure: %+v", dto.Failure)
	}
	if dto.CompletedAt != "" {
		t.Fatalf("expected empty completedAt, got %q", dto.CompletedAt)
	}
}

func TestFromSummaryFillsEveryStatus(t *testing.T) {
	summary := workflow.Summary{
		Running:  true,
		Owner:    "host/framepipe",
		RunStats: runstore.StatusSummary{runstore.StatusRunning: 2},
		StageHealth: map[string]stage.Health{
			"process": {Name: "process", Ready: false, Detail: "ffmpeg missing"},
			"analyze": {Name: "analyze", Ready: true},
		},
	}
	status := FromSummary(summary)
	if status.RunStats["running"] != 2 || status.RunStats["pending"] != 0 {
		t.Fatalf("unexpected run stats: %+v", status.RunStats)
	}
	if _, ok := status.RunStats["completed"]; !ok {
		t.Fatal("expected completed count to be present")
	}
	if len(status.StageHealth) != 2 || status.StageHealth[0].Name != "analyze" {
		t.Fatalf("expected stage health sorted by name, got %+v", status.StageHealth)
	}
}

func TestFromSnapshotOmitsEmptyQueues(t *testing.T) {
	resp := FromSnapshot(worker.Snapshot{
		Workers: []worker.WorkerInfo{{ID: "local", Stages: []string{"analyze"}, Concurrency: 2, Busy: 1}},
		Queued:  map[string]int{},
	})
	if len(resp.Workers) != 1 || resp.Workers[0].Busy != 1 {
		t.Fatalf("unexpected workers: %+v", resp.Workers)
	}
	if resp.Queued != nil {
		t.Fatalf("expected nil queued map, got %+v", resp.Queued)
	}
}

func TestNewResultResponse(t *testing.T) {
	completed := &runstore.Run{
		ID:      "run-1",
		Status:  runstore.StatusCompleted,
		Results: []runstore.StageResult{{Output: json.RawMessage(`{"a":1}`)}, {Output: json.RawMessage(`{"b":2}`)}},
	}
	resp := NewResultResponse("run-1", completed, false)
	if resp.Pending || len(resp.Outputs) != 2 || resp.Failure != nil {
		t.Fatalf("unexpected completed response: %+v", resp)
	}

	failed := &runstore.Run{ID: "run-2", Status: runstore.StatusFailed, Failure: &runstore.Failure{Kind: services.KindNotFound}}
	resp = NewResultResponse("run-2", failed, false)
	if resp.Failure == nil || resp.Failure.Kind != "not_found" || resp.Outputs != nil {
		t.Fatalf("unexpected failed response: %+v", resp)
	}

	running := &runstore.Run{ID: "run-3", Status: runstore.StatusRunning}
	resp = NewResultResponse("run-3", running, true)
	if !resp.Pending || resp.Status != "running" || resp.Outputs != nil {
		t.Fatalf("unexpected pending response: %+v", resp)
	}
}
