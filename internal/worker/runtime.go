package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"framepipe/internal/logging"
	"framepipe/internal/services"
	"framepipe/internal/stage"
)

// LivenessTracker receives heartbeat records from running activities.
type LivenessTracker interface {
	Observe(record stage.HeartbeatRecord)
}

// Task is one activity attempt to execute.
type Task struct {
	RunID            string
	Stage            string
	Attempt          int
	Payload          json.RawMessage
	Timeout          time.Duration
	HeartbeatTimeout time.Duration
}

// Options tune a Runtime.
type Options struct {
	// GracePeriod bounds how long an activity may take to return after its
	// context is cancelled before the runtime abandons it.
	GracePeriod time.Duration
	// HeartbeatInterval is the minimum spacing between emitted heartbeat
	// records.
	HeartbeatInterval time.Duration
	Tracker           LivenessTracker
}

// Runtime routes tasks to registered workers by stage capability.
type Runtime struct {
	logger  *slog.Logger
	grace   time.Duration
	hbEvery time.Duration
	tracker LivenessTracker

	mu      sync.Mutex
	workers map[string]*workerState
	routes  map[string][]string
	queues  map[string][]*job
	wake    chan struct{}
	seq     uint64
}

type workerState struct {
	id          string
	executors   map[string]stage.Executor
	concurrency int
	busy        int
	stop        chan struct{}
	wg          sync.WaitGroup
}

type job struct {
	seq     uint64
	ctx     context.Context
	task    Task
	claimed bool
	done    chan jobResult
}

type jobResult struct {
	output stage.Output
	err    error
}

// NewRuntime builds an empty runtime. Register workers before dispatching.
func NewRuntime(logger *slog.Logger, opts Options) *Runtime {
	if logger == nil {
		logger = logging.NewNop()
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Runtime{
		logger:  logging.NewComponentLogger(logger, "worker-runtime"),
		grace:   grace,
		hbEvery: opts.HeartbeatInterval,
		tracker: opts.Tracker,
		workers: make(map[string]*workerState),
		routes:  make(map[string][]string),
		queues:  make(map[string][]*job),
		wake:    make(chan struct{}),
	}
}

// SetTracker replaces the liveness tracker that receives heartbeats.
func (r *Runtime) SetTracker(tracker LivenessTracker) {
	r.mu.Lock()
	r.tracker = tracker
	r.mu.Unlock()
}

// Register adds a worker that can execute the stages in executors with up to
// concurrency activities at once.
func (r *Runtime) Register(id string, executors map[string]stage.Executor, concurrency int) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("register worker: id is required")
	}
	if len(executors) == 0 {
		return fmt.Errorf("register worker %s: no stage capabilities", id)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	r.mu.Lock()
	if _, exists := r.workers[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("register worker %s: already registered", id)
	}
	ws := &workerState{
		id:          id,
		executors:   make(map[string]stage.Executor, len(executors)),
		concurrency: concurrency,
		stop:        make(chan struct{}),
	}
	for name, exec := range executors {
		if exec == nil {
			continue
		}
		ws.executors[name] = exec
		r.routes[name] = append(r.routes[name], id)
	}
	r.workers[id] = ws
	ws.wg.Add(concurrency)
	r.mu.Unlock()

	for slot := 0; slot < concurrency; slot++ {
		go r.runSlot(ws)
	}
	r.logger.Info("worker registered",
		logging.String(logging.FieldWorker, id),
		logging.String("stages", strings.Join(sortedKeys(ws.executors), ",")),
		logging.Int("concurrency", concurrency),
		logging.String(logging.FieldEventType, "worker_registered"),
	)
	return nil
}

// Unregister stops a worker's slots and waits for in-flight activities to
// finish. Queued tasks whose stage no longer has a capable worker fail with a
// retryable execution error.
func (r *Runtime) Unregister(id string) {
	r.mu.Lock()
	ws, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.workers, id)
	var orphaned []*job
	for name := range ws.executors {
		r.routes[name] = slices.DeleteFunc(r.routes[name], func(w string) bool { return w == id })
		if len(r.routes[name]) == 0 {
			delete(r.routes, name)
			orphaned = append(orphaned, r.queues[name]...)
			delete(r.queues, name)
		}
	}
	close(ws.stop)
	r.broadcastLocked()
	r.mu.Unlock()

	for _, j := range orphaned {
		j.done <- jobResult{err: noWorkerError(j.task.Stage)}
	}
	ws.wg.Wait()
	r.logger.Info("worker unregistered",
		logging.String(logging.FieldWorker, id),
		logging.String(logging.FieldEventType, "worker_unregistered"),
	)
}

// Close unregisters every worker.
func (r *Runtime) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Unregister(id)
	}
}

// Dispatch queues task for a capable worker and waits for its outcome. A
// stage with no registered worker fails immediately with a retryable
// execution error. Cancelling ctx cancels the activity; the error is then
// classified as cancelled, or as timeout when ctx hit its deadline.
func (r *Runtime) Dispatch(ctx context.Context, task Task) (stage.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextFailure(task.Stage, err)
	}
	r.mu.Lock()
	if len(r.routes[task.Stage]) == 0 {
		r.mu.Unlock()
		return nil, noWorkerError(task.Stage)
	}
	r.seq++
	j := &job{seq: r.seq, ctx: ctx, task: task, done: make(chan jobResult, 1)}
	r.queues[task.Stage] = append(r.queues[task.Stage], j)
	r.broadcastLocked()
	r.mu.Unlock()

	select {
	case res := <-j.done:
		return res.output, res.err
	case <-ctx.Done():
	}

	r.mu.Lock()
	if !j.claimed {
		r.queues[task.Stage] = slices.DeleteFunc(r.queues[task.Stage], func(q *job) bool { return q == j })
		r.mu.Unlock()
		select {
		case res := <-j.done:
			return res.output, res.err
		default:
		}
		return nil, contextFailure(task.Stage, ctx.Err())
	}
	r.mu.Unlock()
	// The slot observes ctx and reports within the grace period.
	res := <-j.done
	return res.output, res.err
}

// Capable reports whether any registered worker can execute stageName.
func (r *Runtime) Capable(stageName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes[stageName]) > 0
}

func (r *Runtime) broadcastLocked() {
	close(r.wake)
	r.wake = make(chan struct{})
}

// next claims the oldest queued task among ws's capabilities, or returns the
// channel to wait on when none is available.
func (r *Runtime) next(ws *workerState) (*job, <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		picked *job
		from   string
	)
	for name := range ws.executors {
		queue := r.queues[name]
		if len(queue) == 0 {
			continue
		}
		if picked == nil || queue[0].seq < picked.seq {
			picked = queue[0]
			from = name
		}
	}
	if picked == nil {
		return nil, r.wake
	}
	r.queues[from] = r.queues[from][1:]
	if len(r.queues[from]) == 0 {
		delete(r.queues, from)
	}
	picked.claimed = true
	ws.busy++
	return picked, nil
}

func (r *Runtime) release(ws *workerState) {
	r.mu.Lock()
	ws.busy--
	r.mu.Unlock()
}

func (r *Runtime) currentTracker() LivenessTracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker
}

func noWorkerError(stageName string) error {
	return services.Wrap(services.ErrExecution, stageName, "dispatch", "no worker registered for stage", nil)
}

func contextFailure(stageName string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, "dispatch", "deadline reached before completion", err)
	}
	return services.Wrap(services.ErrCancelled, stageName, "dispatch", "cancelled", err)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
