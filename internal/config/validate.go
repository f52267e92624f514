package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownErrorKinds = map[string]struct{}{
	"invalid_input":     {},
	"not_found":         {},
	"execution_error":   {},
	"timeout":           {},
	"retries_exhausted": {},
	"cancelled":         {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	return c.validateMedia()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.reclaim_interval":   c.Workflow.ReclaimInterval,
		"workflow.heartbeat_interval": c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":  c.Workflow.HeartbeatTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.InitialInterval <= 0 {
		return errors.New("retry.initial_interval must be positive")
	}
	if c.Retry.MaximumInterval < c.Retry.InitialInterval {
		return errors.New("retry.maximum_interval must be >= retry.initial_interval")
	}
	if c.Retry.MaximumAttempts < 1 {
		return errors.New("retry.maximum_attempts must be >= 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("retry.jitter must be between 0 and 1")
	}
	for _, kind := range c.Retry.NonRetryable {
		if _, ok := knownErrorKinds[kind]; !ok {
			return fmt.Errorf("retry.non_retryable: unknown error kind %q", kind)
		}
	}
	return nil
}

func (c *Config) validateStages() error {
	for name, stage := range c.Stages {
		if name == "" {
			return errors.New("stages: stage name must not be empty")
		}
		if stage.HeartbeatTimeout < 0 {
			return fmt.Errorf("stages.%s.heartbeat_timeout must be >= 0", name)
		}
		if stage.MaximumAttempts < 0 {
			return fmt.Errorf("stages.%s.maximum_attempts must be >= 0", name)
		}
	}
	return nil
}

func (c *Config) validateWorkers() error {
	seen := make(map[string]struct{}, len(c.Workers))
	for _, worker := range c.Workers {
		if _, dup := seen[worker.Name]; dup {
			return fmt.Errorf("workers: duplicate worker name %q", worker.Name)
		}
		seen[worker.Name] = struct{}{}
		if len(worker.Stages) == 0 {
			return fmt.Errorf("workers.%s: stages must include at least one stage", worker.Name)
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case StoreSQLite:
		return nil
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn must be set when store.backend is postgres (or set FRAMEPIPE_POSTGRES_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("store.backend: unsupported value %q", c.Store.Backend)
	}
}

func (c *Config) validateArtifacts() error {
	switch c.Artifacts.Backend {
	case ArtifactsLocal:
		if strings.TrimSpace(c.Paths.OutputDir) == "" {
			return errors.New("paths.output_dir must be set when artifacts.backend is local")
		}
		return nil
	case ArtifactsMinio:
		if c.Artifacts.Endpoint == "" {
			return errors.New("artifacts.endpoint must be set when artifacts.backend is minio")
		}
		if c.Artifacts.Bucket == "" {
			return errors.New("artifacts.bucket must be set when artifacts.backend is minio")
		}
		return nil
	default:
		return fmt.Errorf("artifacts.backend: unsupported value %q", c.Artifacts.Backend)
	}
}

func (c *Config) validateMedia() error {
	if c.Media.BlurSigma <= 0 {
		return errors.New("media.blur_sigma must be positive")
	}
	if c.Media.EdgeLow <= 0 || c.Media.EdgeLow > 1 || c.Media.EdgeHigh <= 0 || c.Media.EdgeHigh > 1 {
		return errors.New("media.edge_low and media.edge_high must be between 0 and 1")
	}
	if c.Media.EdgeLow > c.Media.EdgeHigh {
		return errors.New("media.edge_low must be <= media.edge_high")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
