package daemon

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"framepipe/internal/config"
	"framepipe/internal/logging"
	"framepipe/internal/retry"
	"framepipe/internal/runstore"
	"framepipe/internal/stage"
	"framepipe/internal/testsupport"
	"framepipe/internal/worker"
	"framepipe/internal/workflow"
)

const testPipelineName = "test"

// gate blocks the "hold" stage until released or cancelled.
type gate struct {
	release chan struct{}
}

func newGate() *gate {
	return &gate{release: make(chan struct{})}
}

func (g *gate) open() {
	close(g.release)
}

func testExecutors(g *gate) map[string]stage.Executor {
	echo := stage.ExecutorFunc(func(_ context.Context, in stage.Input, hb *stage.Heartbeat) (stage.Output, error) {
		hb.Report(1, "done")
		return json.Marshal(map[string]any{"stage": in.Stage})
	})
	hold := stage.ExecutorFunc(func(ctx context.Context, in stage.Input, hb *stage.Heartbeat) (stage.Output, error) {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		hb.Report(1, "released")
		return json.Marshal(map[string]any{"stage": in.Stage})
	})
	return map[string]stage.Executor{"first": echo, "hold": hold}
}

func testPipeline() workflow.Pipeline {
	input := func(source string, prior []runstore.StageResult) (json.RawMessage, error) {
		return json.Marshal(map[string]any{"source": source, "prior": len(prior)})
	}
	policy := retry.Policy{
		InitialInterval: time.Millisecond,
		MaximumInterval: 5 * time.Millisecond,
		MaximumAttempts: 1,
	}
	return workflow.Pipeline{
		Name:       testPipelineName,
		RunTimeout: time.Minute,
		Stages: []workflow.StageSpec{
			{Name: "first", Input: input, Timeout: 10 * time.Second, Retry: policy},
			{Name: "hold", Input: input, Timeout: 10 * time.Second, Retry: policy},
		},
	}
}

// newTestDaemon builds an unstarted daemon on a temp SQLite store.
func newTestDaemon(t *testing.T, g *gate, opts ...testsupport.ConfigOption) (*Daemon, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Workflow.Pipeline = testPipelineName
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	runtime := worker.NewRuntime(logger, worker.Options{GracePeriod: 200 * time.Millisecond})
	if err := runtime.Register("local", testExecutors(g), 2); err != nil {
		t.Fatalf("register worker: %v", err)
	}
	mgr := workflow.NewManager(cfg, store, runtime, logger,
		workflow.WithOwner("test-host/framepipe"),
		workflow.WithResultPollInterval(20*time.Millisecond),
	)
	if err := mgr.RegisterPipeline(testPipeline()); err != nil {
		t.Fatalf("register pipeline: %v", err)
	}
	runtime.SetTracker(mgr.Heartbeats())

	d, err := New(cfg, store, runtime, mgr, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d, cfg
}

func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}
