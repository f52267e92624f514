package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"framepipe/internal/logging"
	"framepipe/internal/runstore"
	"framepipe/internal/stage"
	"framepipe/internal/testsupport"
	"framepipe/internal/workflow"
)

func TestHeartbeatMonitorPersistsProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewRun(t, store, "run-hb", "clip.mp4", 2)
	ctx := context.Background()
	if err := store.MarkRunning(ctx, "run-hb", "orch-a"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	monitor := workflow.NewHeartbeatMonitor(store, logging.NewNop(), "orch-a", time.Second, time.Minute)
	monitor.Observe(stage.HeartbeatRecord{RunID: "run-hb", Stage: "extract", Progress: 0.25, Message: "frame 25/100"})

	record, ok := monitor.Latest("run-hb")
	if !ok || record.Progress != 0.25 {
		t.Fatalf("unexpected latest record: %#v ok=%v", record, ok)
	}
	run, err := store.GetRun(ctx, "run-hb")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.ProgressStage != "extract" || run.ProgressPercent != 25 || run.ProgressMessage != "frame 25/100" {
		t.Fatalf("progress not persisted: %q %v %q", run.ProgressStage, run.ProgressPercent, run.ProgressMessage)
	}

	monitor.Forget("run-hb")
	if _, ok := monitor.Latest("run-hb"); ok {
		t.Fatal("expected record to be forgotten")
	}
}

func TestHeartbeatMonitorCutoff(t *testing.T) {
	monitor := workflow.NewHeartbeatMonitor(nil, nil, "orch-a", time.Second, time.Minute)
	cutoff := monitor.Cutoff()
	if delta := time.Since(cutoff); delta < time.Minute || delta > time.Minute+time.Second {
		t.Fatalf("unexpected cutoff offset %s", delta)
	}
}

func TestHeartbeatLoopReportsLostLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewRun(t, store, "run-lease", "clip.mp4", 1)
	ctx := context.Background()
	if err := store.MarkRunning(ctx, "run-lease", "orch-a"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	// Another orchestrator takes over once the lease is released.
	if err := store.ReleaseRun(ctx, "run-lease", "orch-a"); err != nil {
		t.Fatalf("ReleaseRun: %v", err)
	}
	if err := store.ClaimRun(ctx, "run-lease", "orch-b", time.Now()); err != nil {
		t.Fatalf("ClaimRun: %v", err)
	}

	monitor := workflow.NewHeartbeatMonitor(store, logging.NewNop(), "orch-a", 10*time.Millisecond, time.Minute)
	lost := make(chan error, 1)
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.StartLoop(loopCtx, &wg, "run-lease", func(err error) { lost <- err })

	select {
	case err := <-lost:
		if !errors.Is(err, runstore.ErrLeaseHeld) {
			t.Fatalf("expected ErrLeaseHeld, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("lease loss not reported")
	}
	wg.Wait()
}
