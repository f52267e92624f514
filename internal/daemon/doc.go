// Package daemon coordinates the long-running framepipe process.
//
// It wires the run store, the worker runtime, and the workflow manager into a
// single lifecycle with flock-based locking to prevent multiple instances. At
// start it logs the readiness checks, recovers runs interrupted by a previous
// process, and serves the optional HTTP API. The daemon also exposes the run
// maintenance helpers (remove, clear completed) the CLI reaches over IPC.
//
// Keep orchestration logic here: stage behavior lives in the video package and
// run sequencing in workflow, while the daemon focuses on startup, shutdown,
// and high level coordination.
package daemon
