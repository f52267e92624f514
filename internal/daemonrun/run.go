package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"framepipe/internal/artifacts"
	"framepipe/internal/config"
	"framepipe/internal/daemon"
	"framepipe/internal/ipc"
	"framepipe/internal/logging"
	"framepipe/internal/preflight"
	"framepipe/internal/runstore"
	"framepipe/internal/runstore/postgres"
	"framepipe/internal/stage"
	"framepipe/internal/video"
	"framepipe/internal/worker"
	"framepipe/internal/workflow"
)

// workerHeartbeatInterval spaces heartbeat records emitted by activities.
const workerHeartbeatInterval = time.Second

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// SocketPath overrides the configured IPC socket location.
	SocketPath string
}

// Run starts the framepipe daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg, opts.LogLevel, opts.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := Assemble(signalCtx, cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "daemon assembly failed", "daemon_assemble_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store and worker config"))
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	<-signalCtx.Done()
	logger.Info("framepipe daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// Assemble opens the configured run store and artifact store, registers the
// configured workers with the video stage executors, and returns an unstarted
// daemon. The daemon owns the store once returned.
func Assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d, err := assemble(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return d, nil
}

func assemble(ctx context.Context, cfg *config.Config, store runstore.Backend, logger *slog.Logger) (*daemon.Daemon, error) {
	outputs, err := artifacts.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	executors, err := video.Executors(video.Dependencies{
		Config:    cfg,
		Media:     video.NewMedia(cfg),
		Artifacts: outputs,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	runtime := worker.NewRuntime(logger, worker.Options{
		GracePeriod:       cfg.CancelGracePeriod(),
		HeartbeatInterval: workerHeartbeatInterval,
	})
	if err := RegisterWorkers(runtime, cfg.Workers, executors); err != nil {
		runtime.Close()
		return nil, err
	}

	mgr := workflow.NewManager(cfg, store, runtime, logger)
	if err := mgr.RegisterPipeline(video.NewPipeline(cfg)); err != nil {
		runtime.Close()
		return nil, fmt.Errorf("register pipeline: %w", err)
	}
	runtime.SetTracker(mgr.Heartbeats())

	d, err := daemon.New(cfg, store, runtime, mgr, logger)
	if err != nil {
		runtime.Close()
		return nil, err
	}
	return d, nil
}

// OpenStore opens the run store selected by the [store] config section.
func OpenStore(ctx context.Context, cfg *config.Config) (runstore.Backend, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		store, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres run store: %w", err)
		}
		return store, nil
	case config.StoreSQLite, "":
		store, err := runstore.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open run store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// RegisterWorkers registers each configured worker with the executors for
// the stages it lists.
func RegisterWorkers(runtime *worker.Runtime, workers []config.Worker, executors map[string]stage.Executor) error {
	for _, w := range workers {
		subset := make(map[string]stage.Executor, len(w.Stages))
		for _, name := range w.Stages {
			exec, ok := executors[name]
			if !ok {
				return fmt.Errorf("worker %s: no executor for stage %q", w.Name, name)
			}
			subset[name] = exec
		}
		if err := runtime.Register(w.Name, subset, w.Concurrency); err != nil {
			return fmt.Errorf("register worker %s: %w", w.Name, err)
		}
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("store_backend", cfg.Store.Backend),
		logging.String("artifacts_backend", cfg.Artifacts.Backend),
	}
	for _, status := range preflight.CheckSystemDeps(cfg) {
		attrs = append(attrs,
			logging.Bool(status.Name+"_available", status.Available),
			logging.String(status.Name+"_binary", status.Command))
	}
	workers := make([]string, 0, len(cfg.Workers))
	for _, w := range cfg.Workers {
		workers = append(workers, w.Name)
	}
	slices.Sort(workers)
	attrs = append(attrs, logging.Any("workers", workers))
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
