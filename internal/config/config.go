package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Workflow contains orchestrator timing. All values are seconds.
type Workflow struct {
	Pipeline          string `toml:"pipeline"`
	ReclaimInterval   int    `toml:"reclaim_interval"`
	HeartbeatInterval int    `toml:"heartbeat_interval"`
	HeartbeatTimeout  int    `toml:"heartbeat_timeout"`
	CancelGracePeriod int    `toml:"cancel_grace_period"`
	RunTimeout        int    `toml:"run_timeout"`
	// WorkRetention is in hours, unlike the other workflow fields.
	WorkRetention     int    `toml:"work_retention"`
}

// Retry contains the default retry policy applied to every stage.
type Retry struct {
	InitialInterval int      `toml:"initial_interval"`
	MaximumInterval int      `toml:"maximum_interval"`
	MaximumAttempts int      `toml:"maximum_attempts"`
	Jitter          float64  `toml:"jitter"`
	NonRetryable    []string `toml:"non_retryable"`
}

// Stage holds per-stage overrides. Zero values inherit the defaults.
type Stage struct {
	Timeout          int `toml:"timeout"`
	HeartbeatTimeout int `toml:"heartbeat_timeout"`
	MaximumAttempts  int `toml:"maximum_attempts"`
}

// Worker declares one in-process worker and the stages it can execute.
type Worker struct {
	Name        string   `toml:"name"`
	Stages      []string `toml:"stages"`
	Concurrency int      `toml:"concurrency"`
}

// Store selects the run store backend.
type Store struct {
	Backend     string `toml:"backend"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// Artifacts selects where processed frames are published.
type Artifacts struct {
	Backend   string `toml:"backend"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Media configures the external ffmpeg tooling used by the video stages.
type Media struct {
	FFmpegBinary         string  `toml:"ffmpeg_binary"`
	FFprobeBinary        string  `toml:"ffprobe_binary"`
	HeartbeatEveryFrames int     `toml:"heartbeat_every_frames"`
	BlurSigma            float64 `toml:"blur_sigma"`
	EdgeLow              float64 `toml:"edge_low"`
	EdgeHigh             float64 `toml:"edge_high"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Config encapsulates all configuration values for framepipe.
//
// Configuration sections by subsystem:
//   - Paths: state, work, output, and log directories plus the API bind address
//   - Workflow: orchestrator reclaim and heartbeat timing
//   - Retry: default stage retry policy
//   - Stages: per-stage timeout and retry overrides
//   - Workers: in-process workers and their stage capabilities
//   - Store: run store backend (sqlite or postgres)
//   - Artifacts: processed frame destination (local or minio)
//   - Media: ffmpeg/ffprobe binaries and frame filter settings
//   - Logging: log format, level, and per-stage overrides
type Config struct {
	Paths     Paths            `toml:"paths"`
	Workflow  Workflow         `toml:"workflow"`
	Retry     Retry            `toml:"retry"`
	Stages    map[string]Stage `toml:"stages"`
	Workers   []Worker         `toml:"workers"`
	Store     Store            `toml:"store"`
	Artifacts Artifacts        `toml:"artifacts"`
	Media     Media            `toml:"media"`
	Logging   Logging          `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("framepipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation. The
// output directory is only needed for the local artifact backend.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.WorkDir, c.Paths.LogDir}
	if c.Artifacts.Backend == ArtifactsLocal {
		dirs = append(dirs, c.Paths.OutputDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite run store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "framepipe.db")
}

// SocketPath returns the daemon's IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "framepipe.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "framepipe.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "framepipe.pid")
}

// StageTimeout returns the execution timeout for the named stage.
func (c *Config) StageTimeout(name string) time.Duration {
	if stage, ok := c.Stages[name]; ok && stage.Timeout > 0 {
		return time.Duration(stage.Timeout) * time.Second
	}
	return time.Duration(defaultStageTimeout) * time.Second
}

// StageHeartbeatTimeout returns the heartbeat window for the named stage, or
// zero when stall detection is disabled.
func (c *Config) StageHeartbeatTimeout(name string) time.Duration {
	if stage, ok := c.Stages[name]; ok && stage.HeartbeatTimeout > 0 {
		return time.Duration(stage.HeartbeatTimeout) * time.Second
	}
	return 0
}

// StageMaxAttempts returns the retry attempt limit for the named stage.
func (c *Config) StageMaxAttempts(name string) int {
	if stage, ok := c.Stages[name]; ok && stage.MaximumAttempts > 0 {
		return stage.MaximumAttempts
	}
	return c.Retry.MaximumAttempts
}

// HeartbeatInterval returns the lease renewal interval as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workflow.HeartbeatInterval) * time.Second
}

// HeartbeatTimeout returns the lease expiry window as a duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Workflow.HeartbeatTimeout) * time.Second
}

// ReclaimInterval returns the orphaned run scan interval as a duration.
func (c *Config) ReclaimInterval() time.Duration {
	return time.Duration(c.Workflow.ReclaimInterval) * time.Second
}

// CancelGracePeriod returns how long a cancelled activity may take to return.
func (c *Config) CancelGracePeriod() time.Duration {
	return time.Duration(c.Workflow.CancelGracePeriod) * time.Second
}

// RunTimeout returns the whole-run execution limit, or zero when disabled.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Workflow.RunTimeout) * time.Second
}

// WorkRetention returns how long finished runs keep their scratch frames, or
// zero when stale cleanup is disabled.
func (c *Config) WorkRetention() time.Duration {
	return time.Duration(c.Workflow.WorkRetention) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
