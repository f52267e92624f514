// Package worker runs stage activities on registered in-process workers.
//
// Workers advertise the stage names they can execute along with a concurrency
// limit. Dispatch queues a task under its stage name; a free slot on any
// capable worker picks it up in FIFO order, runs the activity under the stage
// timeout, watches its heartbeats for stalls, and reports a classified outcome
// back to the caller. Heartbeats are forwarded to a LivenessTracker so the
// orchestrator can keep run leases fresh and surface progress.
package worker
