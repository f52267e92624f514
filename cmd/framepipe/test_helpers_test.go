package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"framepipe/internal/config"
	"framepipe/internal/daemon"
	"framepipe/internal/ipc"
	"framepipe/internal/logging"
	"framepipe/internal/retry"
	"framepipe/internal/runstore"
	"framepipe/internal/stage"
	"framepipe/internal/testsupport"
	"framepipe/internal/worker"
	"framepipe/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *runstore.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	baseDir    string
	release    chan struct{}
}

func testPipeline() workflow.Pipeline {
	input := func(source string, prior []runstore.StageResult) (json.RawMessage, error) {
		return json.Marshal(map[string]any{"source": source, "prior": len(prior)})
	}
	policy := retry.Policy{InitialInterval: time.Millisecond, MaximumInterval: time.Millisecond, MaximumAttempts: 1}
	return workflow.Pipeline{
		Name:       "test",
		RunTimeout: time.Minute,
		Stages: []workflow.StageSpec{
			{Name: "first", Input: input, Timeout: 10 * time.Second, Retry: policy},
			{Name: "hold", Input: input, Timeout: 10 * time.Second, Retry: policy},
		},
	}
}

func testExecutors(release <-chan struct{}) map[string]stage.Executor {
	return map[string]stage.Executor{
		"first": stage.ExecutorFunc(func(_ context.Context, in stage.Input, hb *stage.Heartbeat) (stage.Output, error) {
			hb.Report(1, "done")
			return json.Marshal(map[string]string{"stage": in.Stage})
		}),
		"hold": stage.ExecutorFunc(func(ctx context.Context, in stage.Input, _ *stage.Heartbeat) (stage.Output, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return json.Marshal(map[string]string{"stage": in.Stage})
		}),
	}
}

// setupCLITestEnv starts a daemon running the two-stage test pipeline. The
// "hold" stage blocks until env.release is closed.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Paths.APIBind = ""
	cfg.Workflow.Pipeline = "test"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	configPath := filepath.Join(homeDir, ".config", "framepipe", "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	release := make(chan struct{})

	runtime := worker.NewRuntime(logger, worker.Options{GracePeriod: 200 * time.Millisecond})
	if err := runtime.Register("local", testExecutors(release), 2); err != nil {
		t.Fatalf("register worker: %v", err)
	}
	mgr := workflow.NewManager(cfg, store, runtime, logger,
		workflow.WithOwner("cli-test/framepipe"),
		workflow.WithResultPollInterval(20*time.Millisecond))
	if err := mgr.RegisterPipeline(testPipeline()); err != nil {
		t.Fatalf("register pipeline: %v", err)
	}
	runtime.SetTracker(mgr.Heartbeats())

	d, err := daemon.New(cfg, store, runtime, mgr, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}

	// Unix socket paths are length limited, so keep the socket out of t.TempDir.
	sockDir, err := os.MkdirTemp("", "fp-cli")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	socketPath := filepath.Join(sockDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
		release:    release,
	}

	t.Cleanup(func() {
		env.open()
		srv.Close()
		cancel()
		d.Close()
		_ = os.RemoveAll(sockDir)
	})

	return env
}

func (e *cliTestEnv) open() {
	select {
	case <-e.release:
	default:
		close(e.release)
	}
}

func (e *cliTestEnv) inputFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.baseDir, name)
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func (e *cliTestEnv) waitForStatus(t *testing.T, id string, status runstore.Status) *runstore.Run {
	t.Helper()
	var run *runstore.Run
	waitFor(t, 5*time.Second, func() bool {
		got, err := e.store.GetRun(context.Background(), id)
		if err != nil {
			return false
		}
		run = got
		return got.Status == status
	})
	return run
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content := fmt.Sprintf(
		"[paths]\nstate_dir = %q\nwork_dir = %q\noutput_dir = %q\nlog_dir = %q\napi_bind = %q\n\n[workflow]\npipeline = %q\n",
		cfg.Paths.StateDir,
		cfg.Paths.WorkDir,
		cfg.Paths.OutputDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.Workflow.Pipeline,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
