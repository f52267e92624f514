package main

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"framepipe/internal/api"
	"framepipe/internal/testsupport"
)

func TestStatusFromRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "cli-test/framepipe")

	out, _, err = runCLI(t, []string{"status", "-o", "json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status json: %v", err)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.StoreBackend != "sqlite" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestStatusOfflineReadsStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewRun(t, store, "run-offline", "/videos/a.mp4", 3)
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	missing := filepath.Join(testsupport.BaseDir(cfg), "missing.sock")
	out, _, err := runCLI(t, []string{"status"}, missing, configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "Pending")

	_, _, err = runCLI(t, []string{"stop"}, missing, configPath)
	if err != nil {
		t.Fatalf("stop when not running: %v", err)
	}
}

func TestInvalidOutputFormatRejected(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"workers", "-o", "xml"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestWorkersAndHealthCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"workers"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("workers: %v", err)
	}
	requireContains(t, out, "local")
	requireContains(t, out, "first, hold")

	out, _, _ = runCLI(t, []string{"health"}, env.socketPath, env.configPath)
	requireContains(t, out, "Readiness")
	requireContains(t, out, "Run store")
}
