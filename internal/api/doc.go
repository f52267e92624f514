// Package api defines wire-format types and converters shared by the HTTP API
// and the IPC layer. It translates run records, worker snapshots, and
// orchestrator summaries into transport-friendly DTOs so clients never couple
// to internal types.
//
// # Key Types
//
// Run: transport representation of a pipeline run with progress, persisted
// stage outputs, and the failure record when the run failed.
//
// ResultResponse: outcome of a result request; either outputs, a failure, or a
// pending marker when the caller's timeout elapsed first.
//
// DaemonStatus: daemon running state, store location, workflow summary, and
// external binary availability.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds. Stage
// outputs pass through as json.RawMessage to avoid double-encoding.
package api
