// Package store defines the persistence contract for tasks. The orchestration
// core depends only on these interfaces; concrete engines live under
// internal/platform and are selected at process start.
//
// Every read-modify-write of a task happens inside Transactor.InTx so that a
// task's full field set commits atomically, and the lock-taking reads
// (GetForUpdate, SelectDueScheduled) are only meaningful inside a transaction.
package store
