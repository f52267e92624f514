package stage

import (
	"context"
	"encoding/json"
)

// Input is what the worker runtime hands to an activity for one attempt.
type Input struct {
	RunID   string          `json:"run_id"`
	Stage   string          `json:"stage"`
	Attempt int             `json:"attempt"`
	Payload json.RawMessage `json:"payload"`
}

// Output is the opaque, serializable result of a successful activity.
type Output = json.RawMessage

// Executor performs one stage's unit of work. Implementations validate the
// resources referenced by the payload before processing, honour ctx
// cancellation, and classify failures with services.Wrap.
type Executor interface {
	Execute(ctx context.Context, in Input, hb *Heartbeat) (Output, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, in Input, hb *Heartbeat) (Output, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, in Input, hb *Heartbeat) (Output, error) {
	return f(ctx, in, hb)
}

// HealthChecker is implemented by executors that can report readiness, such as
// those that depend on external binaries.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}
