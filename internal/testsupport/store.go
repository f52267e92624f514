package testsupport

import (
	"context"
	"testing"

	"framepipe/internal/config"
	"framepipe/internal/runstore"
)

// MustOpenStore opens a runstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()

	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRun creates a pending run with stageCount stages.
func NewRun(t testing.TB, store *runstore.Store, id, input string, stageCount int) *runstore.Run {
	t.Helper()

	run := &runstore.Run{ID: id, Pipeline: "test", Input: input, StageCount: stageCount}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("store.CreateRun: %v", err)
	}
	return run
}
