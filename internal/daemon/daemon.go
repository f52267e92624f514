package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"framepipe/internal/config"
	"framepipe/internal/deps"
	"framepipe/internal/logging"
	"framepipe/internal/preflight"
	"framepipe/internal/runstore"
	"framepipe/internal/workdir"
	"framepipe/internal/worker"
	"framepipe/internal/workflow"
)

// Daemon hosts the run store, worker runtime, and workflow manager, and
// enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    runstore.Backend
	runtime  *worker.Runtime
	workflow *workflow.Manager
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StoreBackend string
	StorePath    string
	LockFilePath string
	Workflow     workflow.Summary
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store runstore.Backend, runtime *worker.Runtime, wf *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || runtime == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, worker runtime, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		runtime:  runtime,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, recovers interrupted runs, and begins
// serving the HTTP API when one is configured.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another framepipe daemon instance is already running")
	}

	d.logPreflight(ctx)

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.reclaimWorkDirs(d.ctx)
	if err := d.api.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("framepipe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("owner", d.workflow.Owner()),
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop interrupts in-flight runs, leaving them for the next start to
// recover, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.workflow.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if the next start reports another instance"))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("framepipe daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.runtime.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (d *Daemon) IsRunning() bool {
	return d.running.Load()
}

// APIAddress returns the bound HTTP API address, or "" when the API is off or
// not yet listening.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Submit starts a run of the named pipeline. An empty name selects the
// configured default pipeline.
func (d *Daemon) Submit(ctx context.Context, pipeline, input string) (string, error) {
	if strings.TrimSpace(pipeline) == "" {
		return d.workflow.Submit(ctx, input)
	}
	return d.workflow.SubmitPipeline(ctx, strings.TrimSpace(pipeline), input)
}

// Describe returns the persisted run record.
func (d *Daemon) Describe(ctx context.Context, id string) (*runstore.Run, error) {
	return d.workflow.Describe(ctx, id)
}

// ListRuns returns runs filtered by optional statuses.
func (d *Daemon) ListRuns(ctx context.Context, statuses []runstore.Status) ([]*runstore.Run, error) {
	return d.workflow.List(ctx, statuses...)
}

// Result waits up to timeout for the run to finish. A zero timeout only
// reads the current state. When the run is still active the returned error
// wraps workflow.ErrStillRunning and the run reflects its latest state.
func (d *Daemon) Result(ctx context.Context, id string, timeout time.Duration) (*runstore.Run, error) {
	if timeout <= 0 {
		run, err := d.workflow.Describe(ctx, id)
		if err != nil {
			return nil, err
		}
		if !run.Status.IsTerminal() {
			return run, fmt.Errorf("%w: %s is %s", workflow.ErrStillRunning, id, run.Status)
		}
		return run, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.workflow.Wait(waitCtx, id)
}

// Cancel stops a run and marks it failed with kind cancelled.
func (d *Daemon) Cancel(ctx context.Context, id string) error {
	return d.workflow.Cancel(ctx, id)
}

// Resume continues a run from its persisted stage index.
func (d *Daemon) Resume(ctx context.Context, id string) (*runstore.Run, error) {
	return d.workflow.Resume(ctx, id)
}

// Remove deletes a terminal run.
func (d *Daemon) Remove(ctx context.Context, id string) error {
	if err := d.store.RemoveRun(ctx, id); err != nil {
		return err
	}
	d.removeWorkDir(id)
	d.logger.Info("run removed",
		logging.String(logging.FieldRunID, id),
		logging.String(logging.FieldEventType, "run_removed"))
	return nil
}

// ClearCompleted removes every completed run.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	completed, err := d.store.ListRuns(ctx, runstore.StatusCompleted)
	if err != nil {
		return 0, err
	}
	removed, err := d.store.ClearStatus(ctx, runstore.StatusCompleted)
	if err != nil {
		return 0, err
	}
	for _, run := range completed {
		d.removeWorkDir(run.ID)
	}
	d.logger.Info("completed runs cleared",
		logging.Int64("removed_count", removed),
		logging.String(logging.FieldEventType, "runs_clear_completed"))
	return removed, nil
}

// Workers reports registered workers and queued tasks.
func (d *Daemon) Workers() worker.Snapshot {
	return d.runtime.Snapshot()
}

// Health runs the readiness checks and pings the run store.
func (d *Daemon) Health(ctx context.Context) []preflight.Result {
	results := preflight.RunAll(ctx, d.cfg)
	store := preflight.Result{Name: "Run store", Passed: true, Detail: d.cfg.Store.Backend}
	if err := d.store.Ping(ctx); err != nil {
		store.Passed = false
		store.Detail = err.Error()
	}
	return append([]preflight.Result{store}, results...)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StoreBackend: d.cfg.Store.Backend,
		LockFilePath: d.lockPath,
		Workflow:     d.workflow.Summary(ctx),
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
	if p, ok := d.store.(interface{ Path() string }); ok {
		status.StorePath = p.Path()
	}
	return status
}

func (d *Daemon) logPreflight(ctx context.Context) {
	results := d.Health(ctx)
	failed := preflight.Failed(results)
	for _, r := range failed {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "runs needing this resource will fail until it is fixed"))
	}
	d.logger.Info("preflight complete",
		logging.Int("checks", len(results)),
		logging.Int("failed", len(failed)),
		logging.String(logging.FieldEventType, "preflight_complete"))
}

func (d *Daemon) removeWorkDir(id string) {
	if err := workdir.RemoveRun(d.cfg.Paths.WorkDir, id); err != nil {
		d.logger.Warn("failed to remove run work directory",
			logging.String(logging.FieldRunID, id),
			logging.Error(err),
			logging.String(logging.FieldEventType, "workdir_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "check work_dir permissions"))
	}
}

// reclaimWorkDirs removes scratch directories of runs the store no longer
// knows and of finished runs older than the retention window.
func (d *Daemon) reclaimWorkDirs(ctx context.Context) {
	runs, err := d.store.ListRuns(ctx)
	if err != nil {
		d.logger.Warn("work directory cleanup skipped",
			logging.Error(err),
			logging.String(logging.FieldEventType, "workdir_cleanup_skipped"),
			logging.String(logging.FieldErrorHint, "check run store connectivity"))
		return
	}
	known := make(map[string]struct{}, len(runs))
	active := make(map[string]struct{})
	for _, run := range runs {
		known[run.ID] = struct{}{}
		if run.Status.IsActive() {
			active[run.ID] = struct{}{}
		}
	}
	root := d.cfg.Paths.WorkDir
	orphaned := workdir.CleanOrphaned(ctx, root, known, d.logger)
	stale := workdir.CleanStale(ctx, root, d.cfg.WorkRetention(), active, d.logger)
	if removed := len(orphaned.Removed) + len(stale.Removed); removed > 0 {
		d.logger.Info("work directories reclaimed",
			logging.Int("removed_count", removed),
			logging.Int("error_count", len(orphaned.Errors)+len(stale.Errors)),
			logging.String(logging.FieldEventType, "workdir_reclaimed"))
	}
}
