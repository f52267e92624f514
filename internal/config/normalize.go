package config

import (
	"fmt"
	"os"
	"strings"
)

var stageTimeoutDefaults = map[string]int{
	StageAnalyze: 300,
	StageExtract: 3600,
	StageProcess: 3600,
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeRetry()
	c.normalizeStages()
	c.normalizeWorkers()
	c.normalizeStore()
	c.normalizeArtifacts()
	c.normalizeMedia()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("FRAMEPIPE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.Pipeline = strings.ToLower(strings.TrimSpace(c.Workflow.Pipeline))
	if c.Workflow.Pipeline == "" {
		c.Workflow.Pipeline = defaultPipeline
	}
	if c.Workflow.CancelGracePeriod < 0 {
		c.Workflow.CancelGracePeriod = 0
	}
	if c.Workflow.RunTimeout < 0 {
		c.Workflow.RunTimeout = 0
	}
	if c.Workflow.WorkRetention < 0 {
		c.Workflow.WorkRetention = 0
	}
}

func (c *Config) normalizeRetry() {
	kinds := make([]string, 0, len(c.Retry.NonRetryable))
	seen := make(map[string]struct{}, len(c.Retry.NonRetryable))
	for _, kind := range c.Retry.NonRetryable {
		normalized := strings.ToLower(strings.TrimSpace(kind))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		kinds = append(kinds, normalized)
	}
	c.Retry.NonRetryable = kinds
}

func (c *Config) normalizeStages() {
	if c.Stages == nil {
		c.Stages = map[string]Stage{}
	}
	normalized := make(map[string]Stage, len(c.Stages))
	for name, stage := range c.Stages {
		key := strings.ToLower(strings.TrimSpace(name))
		normalized[key] = mergeStage(normalized[key], stage)
	}
	for name, timeout := range stageTimeoutDefaults {
		stage := normalized[name]
		if stage.Timeout <= 0 {
			stage.Timeout = timeout
		}
		normalized[name] = stage
	}
	c.Stages = normalized
}

func (c *Config) normalizeWorkers() {
	if len(c.Workers) == 0 {
		c.Workers = Default().Workers
		return
	}
	for i := range c.Workers {
		c.Workers[i].Name = strings.TrimSpace(c.Workers[i].Name)
		if c.Workers[i].Name == "" {
			c.Workers[i].Name = fmt.Sprintf("%s-%d", defaultWorkerName, i+1)
		}
		stages := make([]string, 0, len(c.Workers[i].Stages))
		for _, stage := range c.Workers[i].Stages {
			if trimmed := strings.ToLower(strings.TrimSpace(stage)); trimmed != "" {
				stages = append(stages, trimmed)
			}
		}
		c.Workers[i].Stages = stages
		if c.Workers[i].Concurrency <= 0 {
			c.Workers[i].Concurrency = 1
		}
	}
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreKind
	}
	c.Store.PostgresDSN = strings.TrimSpace(c.Store.PostgresDSN)
	if c.Store.PostgresDSN == "" {
		if value, ok := os.LookupEnv("FRAMEPIPE_POSTGRES_DSN"); ok {
			c.Store.PostgresDSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeArtifacts() {
	c.Artifacts.Backend = strings.ToLower(strings.TrimSpace(c.Artifacts.Backend))
	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = ArtifactsLocal
	}
	c.Artifacts.Endpoint = strings.TrimSpace(c.Artifacts.Endpoint)
	c.Artifacts.Bucket = strings.TrimSpace(c.Artifacts.Bucket)
	c.Artifacts.Prefix = strings.Trim(strings.TrimSpace(c.Artifacts.Prefix), "/")
	if c.Artifacts.Region = strings.TrimSpace(c.Artifacts.Region); c.Artifacts.Region == "" {
		c.Artifacts.Region = defaultRegion
	}
	if c.Artifacts.AccessKey == "" {
		if value, ok := os.LookupEnv("FRAMEPIPE_ARTIFACTS_ACCESS_KEY"); ok {
			c.Artifacts.AccessKey = strings.TrimSpace(value)
		}
	}
	if c.Artifacts.SecretKey == "" {
		if value, ok := os.LookupEnv("FRAMEPIPE_ARTIFACTS_SECRET_KEY"); ok {
			c.Artifacts.SecretKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeMedia() {
	if c.Media.FFmpegBinary = strings.TrimSpace(c.Media.FFmpegBinary); c.Media.FFmpegBinary == "" {
		c.Media.FFmpegBinary = defaultFFmpegBinary
	}
	if c.Media.FFprobeBinary = strings.TrimSpace(c.Media.FFprobeBinary); c.Media.FFprobeBinary == "" {
		c.Media.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Media.HeartbeatEveryFrames <= 0 {
		c.Media.HeartbeatEveryFrames = defaultHeartbeatEveryFrames
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Logging.StageOverrides) > 0 {
		overrides := make(map[string]string, len(c.Logging.StageOverrides))
		for stage, level := range c.Logging.StageOverrides {
			overrides[strings.ToLower(strings.TrimSpace(stage))] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.StageOverrides = overrides
	}
}

func mergeStage(base, override Stage) Stage {
	if override.Timeout > 0 {
		base.Timeout = override.Timeout
	}
	if override.HeartbeatTimeout > 0 {
		base.HeartbeatTimeout = override.HeartbeatTimeout
	}
	if override.MaximumAttempts > 0 {
		base.MaximumAttempts = override.MaximumAttempts
	}
	return base
}
