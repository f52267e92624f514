// Package retry wraps a single stage dispatch in an exponential backoff policy.
//
// A Policy names the initial and maximum backoff, the attempt budget, and the
// error kinds that must never be retried. Do runs the first attempt right away,
// waits between attempts without busy looping, stops early on non-retryable or
// cancelled failures, and reports exhaustion as a retries_exhausted error that
// still carries the last underlying failure.
package retry
