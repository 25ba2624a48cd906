// Package generation defines the boundary between the orchestration core and
// the LLM providers that turn a prompt into text.
//
// A Generator is a pure capability: it never touches task state. The task
// executor calls Run, which measures latency and folds every failure mode
// (errors, panics, empty output) into a Result the executor can record.
// Concrete providers live under internal/platform; MockGenerator is used
// for local development and tests.
package generation
