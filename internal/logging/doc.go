// Package logging assembles structured slog loggers and formatting helpers used
// across framepipe.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so orchestrator and activity code
// can tag log lines with run IDs, stages, workers, and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail, per-stage level overrides, and a progress sampler for heartbeat logs.
package logging
