package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"framepipe/internal/config"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite guard, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, env.socketPath, target)
	if err != nil {
		t.Fatalf("validate sample: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := setupCLITestEnv(t)
	content, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	extra := "api_token = \"hunter2\"\n"
	updated := strings.Replace(string(content), "[workflow]", extra+"\n[workflow]", 1)
	if err := os.WriteFile(env.configPath, []byte(updated), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, _, err := runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("expected token to be redacted:\n%s", out)
	}
	requireContains(t, out, redacted)
	requireContains(t, out, env.cfg.Paths.StateDir)
}

func TestRedactDSN(t *testing.T) {
	tests := map[string]string{
		"postgres://fp:secret@db:5432/fp": "postgres://fp:" + redacted + "@db:5432/fp",
		"postgres://fp@db/fp":             "postgres://fp@db/fp",
		"host=db password=secret":         redacted,
	}
	for in, want := range tests {
		if got := redactDSN(in); got != want {
			t.Fatalf("redactDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactConfigLeavesOriginal(t *testing.T) {
	cfg := config.Default()
	cfg.Artifacts.SecretKey = "s3cret"
	redactedCfg := redactConfig(cfg)
	if redactedCfg.Artifacts.SecretKey != redacted {
		t.Fatalf("expected secret key redacted, got %q", redactedCfg.Artifacts.SecretKey)
	}
	if cfg.Artifacts.SecretKey != "s3cret" {
		t.Fatal("expected original config untouched")
	}
}
