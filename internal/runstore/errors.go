package runstore

import "errors"

var (
	// ErrNotFound indicates the run does not exist.
	ErrNotFound = errors.New("run not found")
	// ErrConflict indicates a compare-and-set precondition failed: another
	// writer advanced the run or its status no longer allows the change.
	ErrConflict = errors.New("run state conflict")
	// ErrLeaseHeld indicates a live orchestrator already owns the run.
	ErrLeaseHeld = errors.New("run lease held by another orchestrator")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
