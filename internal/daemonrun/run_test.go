package daemonrun

import (
	"context"
	"slices"
	"strings"
	"testing"

	"framepipe/internal/config"
	"framepipe/internal/logging"
	"framepipe/internal/stage"
	"framepipe/internal/testsupport"
	"framepipe/internal/video"
	"framepipe/internal/worker"
)

func TestAssembleWiresConfiguredWorkers(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubbedBinaries(),
		testsupport.WithWorkers(
			config.Worker{Name: "probe", Stages: []string{config.StageAnalyze}, Concurrency: 1},
			config.Worker{Name: "frames", Stages: []string{config.StageExtract, config.StageProcess}, Concurrency: 3},
		),
	)
	cfg.Paths.APIBind = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	d, err := Assemble(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	snap := d.Workers()
	if len(snap.Workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(snap.Workers))
	}
	byID := make(map[string]worker.WorkerInfo, len(snap.Workers))
	for _, info := range snap.Workers {
		byID[info.ID] = info
	}
	if got := byID["frames"]; got.Concurrency != 3 || !slices.Equal(got.Stages, []string{config.StageExtract, config.StageProcess}) {
		t.Fatalf("unexpected frames worker: %+v", got)
	}
	if got := byID["probe"]; !slices.Equal(got.Stages, []string{config.StageAnalyze}) {
		t.Fatalf("unexpected probe worker: %+v", got)
	}

	status := d.Status(context.Background())
	if status.StoreBackend != config.StoreSQLite {
		t.Fatalf("expected sqlite backend, got %q", status.StoreBackend)
	}
	if status.StorePath != cfg.DatabasePath() {
		t.Fatalf("expected store path %q, got %q", cfg.DatabasePath(), status.StorePath)
	}
	if !slices.Contains(status.Workflow.Pipelines, video.PipelineName) {
		t.Fatalf("expected %q pipeline registered, got %v", video.PipelineName, status.Workflow.Pipelines)
	}
}

func TestRegisterWorkersRejectsUnknownStage(t *testing.T) {
	runtime := worker.NewRuntime(logging.NewNop(), worker.Options{})
	t.Cleanup(runtime.Close)

	executors := map[string]stage.Executor{
		config.StageAnalyze: stage.ExecutorFunc(func(context.Context, stage.Input, *stage.Heartbeat) (stage.Output, error) {
			return nil, nil
		}),
	}
	err := RegisterWorkers(runtime, []config.Worker{{Name: "w", Stages: []string{"transcode"}, Concurrency: 1}}, executors)
	if err == nil || !strings.Contains(err.Error(), "transcode") {
		t.Fatalf("expected unknown stage error, got %v", err)
	}
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStoreBackend("etcd", ""))
	if _, err := OpenStore(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenStoreDefaultsToSQLite(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
