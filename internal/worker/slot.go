package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"framepipe/internal/logging"
	"framepipe/internal/services"
	"framepipe/internal/stage"
)

var (
	errStageTimeout     = errors.New("stage timeout elapsed")
	errHeartbeatTimeout = errors.New("heartbeat timeout elapsed")
)

func (r *Runtime) runSlot(ws *workerState) {
	defer ws.wg.Done()
	for {
		select {
		case <-ws.stop:
			return
		default:
		}
		j, wait := r.next(ws)
		if j == nil {
			select {
			case <-ws.stop:
				return
			case <-wait:
				continue
			}
		}
		res := r.execute(ws, j)
		r.release(ws)
		j.done <- res
	}
}

func (r *Runtime) execute(ws *workerState, j *job) jobResult {
	task := j.task
	exec := ws.executors[task.Stage]
	ctx := services.WithWorker(services.WithStage(services.WithRunID(j.ctx, task.RunID), task.Stage), ws.id)
	logger := logging.WithContext(ctx, r.logger)

	if err := j.ctx.Err(); err != nil {
		return jobResult{err: contextFailure(task.Stage, err)}
	}

	execCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if task.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		execCtx, cancelTimeout = context.WithTimeoutCause(execCtx, task.Timeout, errStageTimeout)
		defer cancelTimeout()
	}

	tracker := r.currentTracker()
	hb := stage.NewHeartbeat(task.RunID, task.Stage, ws.id, task.Attempt, r.hbEvery, func(record stage.HeartbeatRecord) {
		if tracker != nil {
			tracker.Observe(record)
		}
	})

	if task.HeartbeatTimeout > 0 {
		stopWatch := make(chan struct{})
		defer close(stopWatch)
		go watchHeartbeats(execCtx, stopWatch, hb, task.HeartbeatTimeout, cancel)
	}

	started := time.Now()
	logger.Debug("activity started",
		logging.Int("attempt", task.Attempt),
		logging.String(logging.FieldEventType, "activity_start"),
	)

	resultCh := make(chan jobResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- jobResult{err: services.Wrap(services.ErrExecution, task.Stage, "execute", fmt.Sprintf("activity panicked: %v", p), nil)}
			}
		}()
		in := stage.Input{RunID: task.RunID, Stage: task.Stage, Attempt: task.Attempt, Payload: task.Payload}
		out, err := exec.Execute(execCtx, in, hb)
		resultCh <- jobResult{output: out, err: err}
	}()

	var res jobResult
	select {
	case res = <-resultCh:
	case <-execCtx.Done():
		grace := time.NewTimer(r.grace)
		select {
		case res = <-resultCh:
			grace.Stop()
		case <-grace.C:
			logging.WarnWithContext(logger, "activity ignored cancellation; abandoning", "activity_abandoned",
				logging.Duration("grace_period", r.grace),
				logging.String(logging.FieldErrorHint, "activity should honour context cancellation"),
			)
			res = jobResult{err: context.Cause(execCtx)}
		}
	}

	if res.err == nil {
		logger.Debug("activity completed",
			logging.Int("attempt", task.Attempt),
			logging.Duration("duration", time.Since(started)),
			logging.String(logging.FieldEventType, "activity_complete"),
		)
		return res
	}
	if execCtx.Err() != nil {
		res.err = classifyInterrupted(task, context.Cause(execCtx), j.ctx.Err(), res.err)
	}
	logger.Debug("activity failed",
		logging.Int("attempt", task.Attempt),
		logging.Duration("duration", time.Since(started)),
		logging.ErrorKind(res.err),
		logging.Error(res.err),
		logging.String(logging.FieldEventType, "activity_failed"),
	)
	return jobResult{err: res.err}
}

// classifyInterrupted maps an activity failure that followed cancellation to
// timeout or cancelled depending on what ended the context.
func classifyInterrupted(task Task, cause, parentErr, actErr error) error {
	switch {
	case errors.Is(cause, errStageTimeout):
		return services.Wrap(services.ErrTimeout, task.Stage, "execute",
			fmt.Sprintf("stage exceeded %s", task.Timeout), cause)
	case errors.Is(cause, errHeartbeatTimeout):
		return services.Wrap(services.ErrTimeout, task.Stage, "execute",
			fmt.Sprintf("no heartbeat within %s", task.HeartbeatTimeout), cause)
	case parentErr != nil:
		return contextFailure(task.Stage, parentErr)
	default:
		return actErr
	}
}

func watchHeartbeats(ctx context.Context, stop <-chan struct{}, hb *stage.Heartbeat, timeout time.Duration, cancel context.CancelCauseFunc) {
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if time.Since(hb.LastBeat()) > timeout {
				cancel(errHeartbeatTimeout)
				return
			}
		}
	}
}
