// Package workflow drives pipeline runs through their ordered stages.
//
// The Manager persists each run in the run store, dispatches one stage at a
// time to the worker runtime under the stage's retry policy, and appends every
// successful stage result before moving on. A run that fails unrecoverably is
// marked failed with the originating error kind; earlier results are kept for
// diagnosis and manual resume.
//
// Runs are leased by the orchestrator that drives them. The HeartbeatMonitor
// renews leases while a run is active and records activity progress; the
// recovery loop claims runs whose lease expired (or that a previous process
// left behind) and resumes them at their persisted stage index, so completed
// stages are never executed again.
package workflow
