// Package postgres provides the PostgreSQL implementation of the store
// interfaces defined in internal/store, together with the embedded goose
// migrations that create its schema.
//
// Claiming relies on row locks: SelectDueScheduled and the reconciler queries
// use FOR UPDATE SKIP LOCKED so concurrent schedulers never block on, or
// double-claim, the same row, and GetForUpdate serializes the executor's
// read-modify-write of a single task.
package postgres
