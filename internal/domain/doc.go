// Package domain contains the core business entities and lifecycle rules of
// the orchestrator. It is independent of any storage engine, transport or
// generation provider: every status change a task can undergo is expressed
// here as a pure method on Task, and the rest of the system only persists and
// dispatches the results.
package domain
