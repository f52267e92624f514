package retry

import (
	"context"
	"time"

	"framepipe/internal/services"
)

// Options customise a single Do call.
type Options struct {
	// Stage labels exhaustion and cancellation errors.
	Stage string
	// Sleep waits for d or until ctx ends. Tests substitute a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Do calls fn until it succeeds, fails with a non-retryable error, the context
// ends, or the policy's attempt budget is spent. It returns the number of
// attempts made alongside the result.
func Do[T any](ctx context.Context, policy Policy, opts Options, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, 0, services.Wrap(services.ErrInvalidInput, opts.Stage, "retry", "invalid policy", err)
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaximumAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, services.Wrap(services.ErrCancelled, opts.Stage, "retry", "context ended before attempt", err)
		}
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if !policy.Retryable(err) {
			return zero, attempt, err
		}
		if attempt == policy.MaximumAttempts {
			break
		}
		delay := policy.jittered(policy.Backoff(attempt))
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, attempt, services.Wrap(services.ErrCancelled, opts.Stage, "retry", "cancelled during backoff", err)
		}
	}
	return zero, policy.MaximumAttempts, services.Exhausted(opts.Stage, policy.MaximumAttempts, lastErr)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
