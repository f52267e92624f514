package config

const (
	defaultConfigPath                = "~/.config/framepipe/config.toml"
	defaultStateDir                  = "~/.local/share/framepipe"
	defaultWorkDir                   = "~/.local/share/framepipe/work"
	defaultOutputDir                 = "~/framepipe/output"
	defaultLogDir                    = "~/.local/share/framepipe/logs"
	defaultAPIBind                   = "127.0.0.1:7498"
	defaultPipeline                  = "video"
	defaultReclaimInterval           = 30
	defaultWorkflowHeartbeatInterval = 15
	defaultWorkflowHeartbeatTimeout  = 120
	defaultCancelGracePeriod         = 5
	defaultRunTimeout                = 3600
	defaultWorkRetentionHours        = 168
	defaultRetryInitialInterval      = 1
	defaultRetryMaximumInterval      = 60
	defaultRetryMaximumAttempts      = 3
	defaultStageTimeout              = 3600
	defaultWorkerName                = "local"
	defaultWorkerConcurrency         = 2
	defaultFFmpegBinary              = "ffmpeg"
	defaultFFprobeBinary             = "ffprobe"
	defaultHeartbeatEveryFrames      = 10
	defaultBlurSigma                 = 1.1
	defaultEdgeLow                   = 100.0 / 255.0
	defaultEdgeHigh                  = 200.0 / 255.0
	defaultBucket                    = "framepipe"
	defaultRegion                    = "us-east-1"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// Store and artifact backend identifiers.
const (
	StoreSQLite      = "sqlite"
	StorePostgres    = "postgres"
	ArtifactsLocal   = "local"
	ArtifactsMinio   = "minio"
	StageAnalyze     = "analyze"
	StageExtract     = "extract"
	StageProcess     = "process"
	defaultStoreKind = StoreSQLite
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Workflow: Workflow{
			Pipeline:          defaultPipeline,
			ReclaimInterval:   defaultReclaimInterval,
			HeartbeatInterval: defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:  defaultWorkflowHeartbeatTimeout,
			CancelGracePeriod: defaultCancelGracePeriod,
			RunTimeout:        defaultRunTimeout,
			WorkRetention:     defaultWorkRetentionHours,
		},
		Retry: Retry{
			InitialInterval: defaultRetryInitialInterval,
			MaximumInterval: defaultRetryMaximumInterval,
			MaximumAttempts: defaultRetryMaximumAttempts,
			NonRetryable:    []string{"invalid_input", "not_found"},
		},
		Stages: map[string]Stage{
			StageAnalyze: {Timeout: 300},
			StageExtract: {Timeout: 3600},
			StageProcess: {Timeout: 3600},
		},
		Workers: []Worker{{
			Name:        defaultWorkerName,
			Stages:      []string{StageAnalyze, StageExtract, StageProcess},
			Concurrency: defaultWorkerConcurrency,
		}},
		Store: Store{Backend: defaultStoreKind},
		Artifacts: Artifacts{
			Backend: ArtifactsLocal,
			Bucket:  defaultBucket,
			Region:  defaultRegion,
		},
		Media: Media{
			FFmpegBinary:         defaultFFmpegBinary,
			FFprobeBinary:        defaultFFprobeBinary,
			HeartbeatEveryFrames: defaultHeartbeatEveryFrames,
			BlurSigma:            defaultBlurSigma,
			EdgeLow:              defaultEdgeLow,
			EdgeHigh:             defaultEdgeHigh,
		},
		Logging: Logging{
			Format:         defaultLogFormat,
			Level:          defaultLogLevel,
			StageOverrides: map[string]string{},
		},
	}
}
