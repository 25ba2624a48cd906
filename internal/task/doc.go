// Package task is the orchestration core: it drives tasks through their
// lifecycle (scheduled, queued, running, then completed, failed or
// cancelled) on top of a transactional store.
//
// Producers never execute work themselves. The Service creates, chains,
// cancels and retries tasks; the Scheduler promotes due scheduled tasks; the
// Reconciler re-dispatches orphans. All of them hand task IDs to a
// dispatch.Dispatcher. The WorkerPool pulls IDs from a dispatch.Consumer and
// runs the Executor, which owns the queued to running claim and the
// post-generation finalize. Every state change is a locked read-modify-write
// inside store.Transactor.InTx, and dispatch always happens after commit.
package task
