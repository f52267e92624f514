package workflow_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
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

var testStages = []string{"alpha", "beta", "gamma"}

// counter counts executions per stage.
type counter struct {
	calls map[string]*atomic.Int32
}

func newCounter() *counter {
	c := &counter{calls: make(map[string]*atomic.Int32)}
	for _, name := range testStages {
		c.calls[name] = &atomic.Int32{}
	}
	return c
}

func (c *counter) get(name string) int {
	return int(c.calls[name].Load())
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		InitialInterval: time.Millisecond,
		MaximumInterval: 5 * time.Millisecond,
		MaximumAttempts: attempts,
		NonRetryable:    retry.DefaultPolicy().NonRetryable,
	}
}

// chainInput passes the source and the number of prior results to each stage.
func chainInput(source string, prior []runstore.StageResult) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"source": source, "prior": len(prior)})
}

func testPipeline(attempts int) workflow.Pipeline {
	p := workflow.Pipeline{Name: "test", RunTimeout: time.Minute}
	for _, name := range testStages {
		p.Stages = append(p.Stages, workflow.StageSpec{
			Name:    name,
			Input:   chainInput,
			Timeout: 10 * time.Second,
			Retry:   fastPolicy(attempts),
		})
	}
	return p
}

// echoExecutor records the call and returns the stage name with its payload.
func echoExecutor(c *counter) stage.Executor {
	return stage.ExecutorFunc(func(ctx context.Context, in stage.Input, hb *stage.Heartbeat) (stage.Output, error) {
		c.calls[in.Stage].Add(1)
		hb.Report(1, "done")
		return json.Marshal(map[string]any{"stage": in.Stage, "payload": in.Payload})
	})
}

type harness struct {
	cfg     *config.Config
	store   *runstore.Store
	runtime *worker.Runtime
	manager *workflow.Manager
}

func newHarness(t *testing.T, executors map[string]stage.Executor, p workflow.Pipeline, owner string) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.Pipeline = p.Name
	store := testsupport.MustOpenStore(t, cfg)
	h := &harness{cfg: cfg, store: store}
	h.runtime = worker.NewRuntime(logging.NewNop(), worker.Options{GracePeriod: 200 * time.Millisecond})
	t.Cleanup(h.runtime.Close)
	if err := h.runtime.Register("test-worker", executors, 4); err != nil {
		t.Fatalf("register worker: %v", err)
	}
	h.manager = h.newManager(t, p, owner)
	return h
}

// newManager builds a manager on the harness store and runtime and points the
// runtime's heartbeats at it.
func (h *harness) newManager(t *testing.T, p workflow.Pipeline, owner string) *workflow.Manager {
	t.Helper()
	mgr := workflow.NewManager(h.cfg, h.store, h.runtime, logging.NewNop(),
		workflow.WithOwner(owner),
		workflow.WithResultPollInterval(20*time.Millisecond),
	)
	if err := mgr.RegisterPipeline(p); err != nil {
		t.Fatalf("register pipeline: %v", err)
	}
	h.runtime.SetTracker(mgr.Heartbeats())
	return mgr
}

func (h *harness) start(t *testing.T, mgr *workflow.Manager) {
	t.Helper()
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	t.Cleanup(mgr.Stop)
}

func waitRun(t *testing.T, mgr *workflow.Manager, id string) *runstore.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := mgr.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait for run %s: %v", id, err)
	}
	return run
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func executorsFor(exec stage.Executor) map[string]stage.Executor {
	out := make(map[string]stage.Executor, len(testStages))
	for _, name := range testStages {
		out[name] = exec
	}
	return out
}

func decodeStage(t *testing.T, raw json.RawMessage) (string, int) {
	t.Helper()
	var out struct {
		Stage   string `json:"stage"`
		Payload struct {
			Prior int `json:"prior"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode output %s: %v", raw, err)
	}
	return out.Stage, out.Payload.Prior
}
