// Package dispatch defines the channel that carries task IDs from the
// producers (service, scheduler, reconciler) to the worker pool.
//
// Delivery is at-least-once and carries only the task ID; the executor
// reloads the row and its atomic claim makes duplicates harmless.
package dispatch
