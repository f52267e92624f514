package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"framepipe/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "framepipe")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "framepipe.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Paths.APIBind != "127.0.0.1:7498" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Store.Backend != config.StoreSQLite {
		t.Fatalf("expected sqlite store by default, got %q", cfg.Store.Backend)
	}
	if cfg.Artifacts.Backend != config.ArtifactsLocal {
		t.Fatalf("expected local artifacts by default, got %q", cfg.Artifacts.Backend)
	}
	if got := cfg.StageTimeout(config.StageAnalyze); got != 5*time.Minute {
		t.Fatalf("expected analyze timeout 5m, got %s", got)
	}
	if got := cfg.StageTimeout(config.StageExtract); got != time.Hour {
		t.Fatalf("expected extract timeout 1h, got %s", got)
	}
	if cfg.Retry.InitialInterval != 1 || cfg.Retry.MaximumInterval != 60 || cfg.Retry.MaximumAttempts != 3 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if len(cfg.Workers) != 1 || len(cfg.Workers[0].Stages) != 3 {
		t.Fatalf("expected one default worker with all stages, got %+v", cfg.Workers)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "framepipe.toml")

	type stage struct {
		Timeout         int `toml:"timeout"`
		MaximumAttempts int `toml:"maximum_attempts"`
	}
	type payload struct {
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
		Workflow struct {
			HeartbeatInterval int `toml:"heartbeat_interval"`
			HeartbeatTimeout  int `toml:"heartbeat_timeout"`
		} `toml:"workflow"`
		Stages  map[string]stage `toml:"stages"`
		Workers []config.Worker  `toml:"workers"`
	}
	custom := payload{}
	custom.Paths.StateDir = filepath.Join(tempDir, "state")
	custom.Workflow.HeartbeatInterval = 20
	custom.Workflow.HeartbeatTimeout = 200
	custom.Stages = map[string]stage{"Extract": {MaximumAttempts: 5}}
	custom.Workers = []config.Worker{
		{Name: "probe", Stages: []string{"analyze"}},
		{Name: "frames", Stages: []string{"extract", " Process "}, Concurrency: 4},
	}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.StateDir != filepath.Join(tempDir, "state") {
		t.Fatalf("unexpected state dir %q", cfg.Paths.StateDir)
	}
	if cfg.HeartbeatInterval() != 20*time.Second || cfg.HeartbeatTimeout() != 200*time.Second {
		t.Fatalf("unexpected heartbeat settings: %+v", cfg.Workflow)
	}
	if cfg.StageMaxAttempts(config.StageExtract) != 5 {
		t.Fatalf("expected extract attempts override, got %d", cfg.StageMaxAttempts(config.StageExtract))
	}
	if cfg.StageMaxAttempts(config.StageProcess) != 3 {
		t.Fatalf("expected process attempts to inherit default, got %d", cfg.StageMaxAttempts(config.StageProcess))
	}
	if cfg.StageTimeout(config.StageExtract) != time.Hour {
		t.Fatalf("expected extract timeout default to be restored, got %s", cfg.StageTimeout(config.StageExtract))
	}
	if len(cfg.Workers) != 2 {
		t.Fatalf("expected two workers, got %+v", cfg.Workers)
	}
	if cfg.Workers[0].Concurrency != 1 {
		t.Fatalf("expected concurrency to default to 1, got %d", cfg.Workers[0].Concurrency)
	}
	if cfg.Workers[1].Stages[1] != "process" {
		t.Fatalf("expected stage names to be normalized, got %v", cfg.Workers[1].Stages)
	}
}

func TestEnvVarFallbacks(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "framepipe.toml")
	content := `
[store]
backend = "postgres"

[artifacts]
backend = "minio"
endpoint = "localhost:9000"
bucket = "frames"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FRAMEPIPE_POSTGRES_DSN", "postgres://localhost/framepipe")
	t.Setenv("FRAMEPIPE_ARTIFACTS_ACCESS_KEY", "access")
	t.Setenv("FRAMEPIPE_ARTIFACTS_SECRET_KEY", "secret")
	t.Setenv("FRAMEPIPE_API_TOKEN", "token")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.PostgresDSN != "postgres://localhost/framepipe" {
		t.Errorf("expected DSN from env, got %q", cfg.Store.PostgresDSN)
	}
	if cfg.Artifacts.AccessKey != "access" || cfg.Artifacts.SecretKey != "secret" {
		t.Errorf("expected artifact credentials from env, got %+v", cfg.Artifacts)
	}
	if cfg.Paths.APIToken != "token" {
		t.Errorf("expected api token from env, got %q", cfg.Paths.APIToken)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.StateDir, "framepipe") {
		t.Fatalf("expected state dir to contain framepipe, got %q", cfg.Paths.StateDir)
	}
	if len(cfg.Workers) != 1 || cfg.Workers[0].Name != "local" {
		t.Fatalf("unexpected sample workers: %+v", cfg.Workers)
	}
	if cfg.Stages["analyze"].Timeout != 300 {
		t.Fatalf("unexpected sample analyze timeout: %+v", cfg.Stages)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"heartbeat interval", func(c *config.Config) { c.Workflow.HeartbeatInterval = 0 }},
		{"timeout <= interval", func(c *config.Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval }},
		{"max < initial", func(c *config.Config) { c.Retry.MaximumInterval = 0 }},
		{"zero attempts", func(c *config.Config) { c.Retry.MaximumAttempts = 0 }},
		{"unknown kind", func(c *config.Config) { c.Retry.NonRetryable = []string{"boom"} }},
		{"postgres without dsn", func(c *config.Config) { c.Store.Backend = config.StorePostgres }},
		{"minio without endpoint", func(c *config.Config) { c.Artifacts.Backend = config.ArtifactsMinio }},
		{"worker without stages", func(c *config.Config) { c.Workers = []config.Worker{{Name: "idle"}} }},
		{"edge order", func(c *config.Config) { c.Media.EdgeLow, c.Media.EdgeHigh = 0.9, 0.1 }},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
