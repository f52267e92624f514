// Package runstore persists pipeline runs and their stage results.
//
// A run row carries the run's status, its current stage index, the lease held
// by the orchestrator driving it, advisory progress, and the failure that
// stopped it. Stage results live in their own table keyed by run and stage
// index. AppendStageResult writes a result and advances the index in one
// transaction guarded by a compare-and-set on the expected index, so two
// writers can never both advance the same stage and results become visible in
// strictly increasing order.
//
// The default backend is SQLite (modernc.org/sqlite, WAL mode, busy retry);
// the postgres subpackage provides the same operations on PostgreSQL.
package runstore
