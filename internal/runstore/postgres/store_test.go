package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"framepipe/internal/runstore"
	"framepipe/internal/runstore/postgres"
	"framepipe/internal/services"
)

func openTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("FRAMEPIPE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FRAMEPIPE_TEST_POSTGRES_DSN not set")
	}
	store, err := postgres.Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("postgres.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	if err := store.CreateRun(ctx, &runstore.Run{ID: id, Pipeline: "test", Input: "in", StageCount: 2}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	t.Cleanup(func() {
		_ = store.MarkFailed(ctx, id, &runstore.Failure{Kind: services.KindCancelled, Message: "cleanup"})
		_ = store.RemoveRun(ctx, id)
	})

	if err := store.MarkRunning(ctx, id, "orch-a"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := store.ClaimRun(ctx, id, "orch-b", time.Now().Add(-time.Hour)); !errors.Is(err, runstore.ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	first := runstore.StageResult{Index: 0, Name: "a", Output: json.RawMessage(`{"n":1}`), Attempts: 1}
	if err := store.AppendStageResult(ctx, id, first); err != nil {
		t.Fatalf("AppendStageResult: %v", err)
	}
	if err := store.AppendStageResult(ctx, id, first); !errors.Is(err, runstore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := store.MarkCompleted(ctx, id); !errors.Is(err, runstore.ErrConflict) {
		t.Fatalf("expected completion conflict, got %v", err)
	}
	second := runstore.StageResult{Index: 1, Name: "b", Output: json.RawMessage(`{"n":2}`), Attempts: 2}
	if err := store.AppendStageResult(ctx, id, second); err != nil {
		t.Fatalf("AppendStageResult: %v", err)
	}
	if err := store.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	run, err := store.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != runstore.StatusCompleted || len(run.Results) != 2 {
		t.Fatalf("unexpected run: %#v", run)
	}
	if string(run.FinalOutput()) != `{"n":2}` {
		t.Fatalf("unexpected final output %s", run.FinalOutput())
	}
}

func TestMarkFailedPersistsKinds(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	if err := store.CreateRun(ctx, &runstore.Run{ID: id, Pipeline: "test", Input: "in", StageCount: 1}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	t.Cleanup(func() { _ = store.RemoveRun(ctx, id) })

	cause := services.Wrap(services.ErrTimeout, "extract", "execute", "too slow", nil)
	failure := runstore.FailureFromError(services.Exhausted("extract", 2, cause), "extract", 0, 2)
	if err := store.MarkFailed(ctx, id, failure); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	run, err := store.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Failure == nil || run.Failure.Kind != services.KindRetriesExhausted || run.Failure.RootKind != services.KindTimeout {
		t.Fatalf("unexpected failure: %#v", run.Failure)
	}
}
