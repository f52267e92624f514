package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"framepipe/internal/retry"
	"framepipe/internal/services"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	policy := retry.Policy{InitialInterval: time.Second, MaximumInterval: 60 * time.Second, MaximumAttempts: 10}
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for i, w := range want {
		if got := policy.Backoff(i + 1); got != w*time.Second {
			t.Fatalf("Backoff(%d) = %s, want %s", i+1, got, w*time.Second)
		}
	}
	if got := policy.Backoff(500); got != 60*time.Second {
		t.Fatalf("expected large attempts to stay capped, got %s", got)
	}
}

func TestPolicyValidate(t *testing.T) {
	cases := []retry.Policy{
		{InitialInterval: 0, MaximumInterval: time.Second, MaximumAttempts: 1},
		{InitialInterval: 2 * time.Second, MaximumInterval: time.Second, MaximumAttempts: 1},
		{InitialInterval: time.Second, MaximumInterval: time.Second, MaximumAttempts: 0},
		{InitialInterval: time.Second, MaximumInterval: time.Second, MaximumAttempts: 1, Jitter: 2},
	}
	for i, policy := range cases {
		if err := policy.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if err := retry.DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}

func TestDoRetriesUntilExhausted(t *testing.T) {
	policy := retry.Policy{InitialInterval: time.Second, MaximumInterval: 60 * time.Second, MaximumAttempts: 4}
	rec := &sleepRecorder{}
	calls := 0
	failure := services.Wrap(services.ErrExecution, "extract", "ffmpeg", "decode failed", nil)

	_, attempts, err := retry.Do(context.Background(), policy, retry.Options{Stage: "extract", Sleep: rec.sleep},
		func(context.Context, int) (string, error) {
			calls++
			return "", failure
		})
	if calls != 4 || attempts != 4 {
		t.Fatalf("expected 4 attempts, got calls=%d attempts=%d", calls, attempts)
	}
	if services.KindOf(err) != services.KindRetriesExhausted {
		t.Fatalf("expected retries_exhausted, got %v", err)
	}
	if !errors.Is(err, failure) {
		t.Fatalf("expected last failure to be wrapped, got %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Fatalf("wait %d = %s, want %s", i, rec.delays[i], want[i])
		}
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	for _, marker := range []error{services.ErrInvalidInput, services.ErrNotFound} {
		rec := &sleepRecorder{}
		calls := 0
		_, attempts, err := retry.Do(context.Background(), retry.DefaultPolicy(), retry.Options{Sleep: rec.sleep},
			func(context.Context, int) (int, error) {
				calls++
				return 0, services.Wrap(marker, "analyze", "", "", nil)
			})
		if calls != 1 || attempts != 1 {
			t.Fatalf("%v: expected a single attempt, got %d", marker, calls)
		}
		if !errors.Is(err, marker) {
			t.Fatalf("expected original failure to propagate, got %v", err)
		}
		if len(rec.delays) != 0 {
			t.Fatalf("expected no backoff waits, got %v", rec.delays)
		}
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	rec := &sleepRecorder{}
	value, attempts, err := retry.Do(context.Background(), retry.DefaultPolicy(), retry.Options{Sleep: rec.sleep},
		func(_ context.Context, attempt int) (int, error) {
			if attempt < 3 {
				return 0, errors.New("flaky")
			}
			return 42, nil
		})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if value != 42 || attempts != 3 {
		t.Fatalf("unexpected result value=%d attempts=%d", value, attempts)
	}
}

func TestDoHonoursCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := retry.Policy{InitialInterval: time.Hour, MaximumInterval: time.Hour, MaximumAttempts: 3}
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, _, err := retry.Do(ctx, policy, retry.Options{}, func(context.Context, int) (int, error) {
			calls++
			return 0, errors.New("flaky")
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if services.KindOf(err) != services.KindCancelled {
			t.Fatalf("expected cancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected one attempt before cancellation, got %d", calls)
	}
}

func TestDoDoesNotRetryCancellation(t *testing.T) {
	calls := 0
	_, _, err := retry.Do(context.Background(), retry.DefaultPolicy(), retry.Options{}, func(context.Context, int) (int, error) {
		calls++
		return 0, services.Wrap(services.ErrCancelled, "process", "", "", context.Canceled)
	})
	if calls != 1 || services.KindOf(err) != services.KindCancelled {
		t.Fatalf("expected single cancelled attempt, got calls=%d err=%v", calls, err)
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	policy := retry.Policy{InitialInterval: time.Second, MaximumInterval: time.Second, MaximumAttempts: 30, Jitter: 0.5}
	rec := &sleepRecorder{}
	_, _, _ = retry.Do(context.Background(), policy, retry.Options{Sleep: rec.sleep}, func(context.Context, int) (int, error) {
		return 0, errors.New("flaky")
	})
	for _, d := range rec.delays {
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay %s out of bounds", d)
		}
	}
}
