package retry

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"framepipe/internal/services"
)

// Policy configures how a failed dispatch is retried.
type Policy struct {
	InitialInterval time.Duration
	MaximumInterval time.Duration
	MaximumAttempts int
	// Jitter spreads each delay by up to this fraction in either direction.
	// Zero keeps backoff deterministic.
	Jitter       float64
	NonRetryable []services.Kind
}

// DefaultPolicy returns the policy applied to stages without overrides.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: time.Second,
		MaximumInterval: time.Minute,
		MaximumAttempts: 3,
		NonRetryable:    []services.Kind{services.KindInvalidInput, services.KindNotFound},
	}
}

// Validate reports configuration errors.
func (p Policy) Validate() error {
	if p.InitialInterval <= 0 {
		return errors.New("retry policy: initial interval must be positive")
	}
	if p.MaximumInterval < p.InitialInterval {
		return fmt.Errorf("retry policy: maximum interval %s is below initial interval %s", p.MaximumInterval, p.InitialInterval)
	}
	if p.MaximumAttempts < 1 {
		return errors.New("retry policy: maximum attempts must be at least 1")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return errors.New("retry policy: jitter must be between 0 and 1")
	}
	return nil
}

// Backoff returns the delay that follows failed attempt n (1-based):
// min(initial * 2^(n-1), maximum).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialInterval
	for i := 1; i < attempt; i++ {
		if delay >= p.MaximumInterval || delay > p.MaximumInterval/2 {
			return p.MaximumInterval
		}
		delay *= 2
	}
	if delay > p.MaximumInterval {
		return p.MaximumInterval
	}
	return delay
}

// Retryable reports whether err may be retried under this policy. Cancellation
// and already exhausted failures are never retried.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	kind := services.KindOf(err)
	if kind == services.KindCancelled || kind == services.KindRetriesExhausted {
		return false
	}
	return !slices.Contains(p.NonRetryable, kind)
}

func (p Policy) jittered(delay time.Duration) time.Duration {
	if p.Jitter <= 0 || delay <= 0 {
		return delay
	}
	spread := float64(delay) * p.Jitter
	return time.Duration(float64(delay) - spread + rand.Float64()*2*spread)
}
