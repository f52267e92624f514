// Package services defines shared utilities consumed by the orchestrator, the
// worker runtime, and the stage activities.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, worker IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify a failure once,
//     where it originates, so retry decisions and persisted failure records agree.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
