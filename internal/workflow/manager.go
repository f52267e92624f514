package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"framepipe/internal/config"
	"framepipe/internal/logging"
	"framepipe/internal/runstore"
	"framepipe/internal/stage"
	"framepipe/internal/worker"
)

// Dispatcher executes one stage attempt. *worker.Runtime satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, task worker.Task) (stage.Output, error)
}

type capabilityReporter interface {
	Capable(stageName string) bool
}

type healthReporter interface {
	HealthChecks(ctx context.Context) map[string]stage.Health
}

// Manager coordinates pipeline runs against the run store and worker runtime.
type Manager struct {
	cfg        *config.Config
	store      runstore.Backend
	dispatcher Dispatcher
	logger     *slog.Logger
	owner      string

	heartbeat       *HeartbeatMonitor
	reclaimInterval time.Duration
	resultPoll      time.Duration
	retrySleep      func(ctx context.Context, d time.Duration) error

	pipelines       map[string]Pipeline
	defaultPipeline string

	mu       sync.RWMutex
	running  bool
	baseCtx  context.Context
	cancel   context.CancelCauseFunc
	wg       sync.WaitGroup
	active   map[string]*activeRun
	watchers map[string][]chan struct{}
	lastErr  error
}

type activeRun struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithOwner sets the lease owner id recorded on runs this manager drives.
func WithOwner(owner string) ManagerOption {
	return func(m *Manager) {
		if owner != "" {
			m.owner = owner
		}
	}
}

// WithRetrySleep replaces the backoff wait used between attempts.
func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) {
		m.retrySleep = sleep
	}
}

// WithResultPollInterval sets how often Wait re-reads the store for runs
// driven by another process.
func WithResultPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.resultPoll = d
		}
	}
}

// NewManager constructs a workflow manager. Register at least one pipeline
// before calling Start.
func NewManager(cfg *config.Config, store runstore.Backend, dispatcher Dispatcher, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:             cfg,
		store:           store,
		dispatcher:      dispatcher,
		logger:          logging.NewComponentLogger(logger, "workflow-manager"),
		owner:           defaultOwner(),
		reclaimInterval: cfg.ReclaimInterval(),
		resultPoll:      time.Second,
		pipelines:       make(map[string]Pipeline),
		defaultPipeline: cfg.Workflow.Pipeline,
		active:          make(map[string]*activeRun),
		watchers:        make(map[string][]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.heartbeat = NewHeartbeatMonitor(store, logger, m.owner, cfg.HeartbeatInterval(), cfg.HeartbeatTimeout())
	return m
}

// Heartbeats returns the liveness tracker to hand to the worker runtime.
func (m *Manager) Heartbeats() *HeartbeatMonitor {
	return m.heartbeat
}

// Owner returns the lease owner id of this manager.
func (m *Manager) Owner() string {
	return m.owner
}

// RegisterPipeline makes p available to SubmitPipeline and recovery. The first
// pipeline registered becomes the default when none is configured.
func (m *Manager) RegisterPipeline(p Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if reporter, ok := m.dispatcher.(capabilityReporter); ok {
		for _, spec := range p.Stages {
			if !reporter.Capable(spec.Name) {
				logging.WarnWithContext(m.logger, "no worker can run stage", "stage_unserved",
					logging.String("pipeline", p.Name),
					logging.String(logging.FieldStage, spec.Name),
					logging.String(logging.FieldErrorHint, "add the stage to a [[workers]] entry"))
			}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[p.Name] = p
	if m.defaultPipeline == "" {
		m.defaultPipeline = p.Name
	}
	return nil
}

func (m *Manager) pipeline(name string) (Pipeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[name]
	return p, ok
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s/framepipe", host)
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// stageInput runs the stage input function, shielding the manager from
// panics in user-supplied code.
func stageInput(spec StageSpec, source string, prior []runstore.StageResult) (payload json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("input function panicked: %v", p)
		}
	}()
	return spec.Input(source, prior)
}
