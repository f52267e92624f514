// Package stage defines the contract between the worker runtime and the
// activities that perform each pipeline stage's work.
//
// An Executor receives an Input carrying the run id, stage name, attempt
// number, and an opaque JSON payload computed by the orchestrator from prior
// stage results. It returns an opaque JSON Output or a classified error, and
// reports progress through a rate-limited Heartbeat. Health records let the CLI
// and daemon surface whether an executor's external dependencies are present.
package stage
