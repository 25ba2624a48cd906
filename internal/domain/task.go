package domain

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TaskStatus represents a task's position in its lifecycle.
type TaskStatus string

// Possible task status values
const (
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

const (
	// DefaultMaxAttempts is used whenever a task carries no positive max_attempts.
	DefaultMaxAttempts = 3

	// MaxAllowedAttempts bounds any caller-supplied max_attempts.
	MaxAllowedAttempts = 20

	// MaxNameLength is the maximum task name length in characters.
	MaxNameLength = 200
)

// Common validation errors for Task
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyTaskName      = errors.New("task name cannot be empty")
	ErrTaskNameTooLong    = fmt.Errorf("task name cannot exceed %d characters", MaxNameLength)
	ErrEmptyTaskPrompt    = errors.New("task prompt cannot be empty")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrInvalidMaxAttempts = fmt.Errorf("max attempts must be between 1 and %d", MaxAllowedAttempts)
	ErrEmptyInstruction   = errors.New("chain instruction cannot be empty")
)

// transitions lists, for each non-terminal source status (plus failed, which
// can be explicitly retried), the statuses it may move to.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusScheduled: {TaskStatusQueued, TaskStatusCancelled},
	TaskStatusQueued:    {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning: {
		TaskStatusCompleted,
		TaskStatusQueued,
		TaskStatusFailed,
		TaskStatusCancelled,
	},
	TaskStatusFailed: {TaskStatusQueued},
}

// IsTerminal reports whether no automatic transition leaves the status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusScheduled, TaskStatusQueued, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a task in status from may move to status to.
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Task is a single prompt execution against a generation provider, along
// with its scheduling, retry and result bookkeeping.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Prompt       string     `json:"prompt"`
	Status       TaskStatus `json:"status"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Output       *string    `json:"output,omitempty"`
	Error        *string    `json:"error,omitempty"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ParentTaskID *uuid.UUID `json:"parent_task_id,omitempty"`
	LLMProvider  *string    `json:"llm_provider,omitempty"`
	LLMModel     *string    `json:"llm_model,omitempty"`
	LatencyMS    *int64     `json:"latency_ms,omitempty"`
}

// NewTaskParams holds the caller-supplied fields of a new task.
type NewTaskParams struct {
	Name         string
	Prompt       string
	ScheduledFor *time.Time
	MaxAttempts  int // zero means DefaultMaxAttempts
	ParentTaskID *uuid.UUID
}

// NewTask creates a validated Task. The initial status is decided once, here:
// queued when ScheduledFor is absent or not after now, scheduled otherwise.
// ScheduledFor is normalized to UTC before the comparison.
func NewTask(params NewTaskParams, now time.Time) (*Task, error) {
	now = now.UTC()

	maxAttempts := params.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	task := &Task{
		ID:           uuid.New(),
		Name:         params.Name,
		Prompt:       params.Prompt,
		Status:       TaskStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		MaxAttempts:  maxAttempts,
		ParentTaskID: params.ParentTaskID,
	}

	if params.ScheduledFor != nil {
		at := params.ScheduledFor.UTC()
		task.ScheduledFor = &at
		if at.After(now) {
			task.Status = TaskStatusScheduled
		}
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Name == "" {
		return ErrEmptyTaskName
	}

	if utf8.RuneCountInString(t.Name) > MaxNameLength {
		return ErrTaskNameTooLong
	}

	if t.Prompt == "" {
		return ErrEmptyTaskPrompt
	}

	if !t.Status.IsValid() {
		return ErrInvalidTaskStatus
	}

	if t.MaxAttempts < 1 || t.MaxAttempts > MaxAllowedAttempts {
		return ErrInvalidMaxAttempts
	}

	return nil
}

// EffectiveMaxAttempts returns max_attempts, falling back to the default
// for rows that carry none.
func (t *Task) EffectiveMaxAttempts() int {
	if t.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return t.MaxAttempts
}

// HasAttemptsRemaining reports whether a failed attempt may be retried.
func (t *Task) HasAttemptsRemaining() bool {
	attempts := t.Attempts
	if attempts < 0 {
		attempts = 0
	}
	return attempts < t.EffectiveMaxAttempts()
}

func (t *Task) transition(to TaskStatus, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now.UTC()
	return nil
}

// MarkQueued moves a due scheduled task to queued.
func (t *Task) MarkQueued(now time.Time) error {
	if t.Status != TaskStatusScheduled {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TaskStatusQueued)
	}
	return t.transition(TaskStatusQueued, now)
}

// MarkRunning claims a queued task for execution. It counts the attempt,
// stamps started_at on the first run and clears the previous attempt's error
// and finish marker.
func (t *Task) MarkRunning(now time.Time) error {
	if err := t.transition(TaskStatusRunning, now); err != nil {
		return err
	}
	if t.Attempts < 0 {
		t.Attempts = 0
	}
	t.Attempts++
	if t.StartedAt == nil {
		started := now.UTC()
		t.StartedAt = &started
	}
	t.Error = nil
	t.FinishedAt = nil
	return nil
}

// MarkCompleted records a successful generation.
func (t *Task) MarkCompleted(output, provider, model string, latency time.Duration, now time.Time) error {
	if err := t.transition(TaskStatusCompleted, now); err != nil {
		return err
	}
	latencyMS := latency.Milliseconds()
	t.Output = &output
	t.Error = nil
	t.LLMProvider = &provider
	if model != "" {
		t.LLMModel = &model
	} else {
		t.LLMModel = nil
	}
	t.LatencyMS = &latencyMS
	t.stampFinished(now, true)
	return nil
}

// RecordFailure applies the retry decision for a failed attempt of a running
// task. It returns true when the task went back to queued and must be
// re-dispatched, false when it is now failed.
func (t *Task) RecordFailure(errText string, now time.Time) (bool, error) {
	to := TaskStatusFailed
	if t.HasAttemptsRemaining() {
		to = TaskStatusQueued
	}
	if t.Status != TaskStatusRunning {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	if err := t.transition(to, now); err != nil {
		return false, err
	}
	t.Error = &errText
	// On requeue the timestamp marks the end of the attempt, not of the task.
	t.stampFinished(now, true)
	return to == TaskStatusQueued, nil
}

// Cancel moves a non-terminal task to cancelled. A terminal task is left
// untouched and Cancel returns false.
func (t *Task) Cancel(now time.Time) bool {
	if t.Status.IsTerminal() {
		return false
	}
	wasRunning := t.Status == TaskStatusRunning
	// Every non-terminal status may be cancelled.
	_ = t.transition(TaskStatusCancelled, now)
	t.stampFinished(now, !wasRunning)
	return true
}

// StampCancelled makes sure a cancelled task carries finished_at. It reports
// whether anything changed.
func (t *Task) StampCancelled(now time.Time) bool {
	if t.Status != TaskStatusCancelled || t.FinishedAt != nil {
		return false
	}
	t.stampFinished(now, false)
	t.UpdatedAt = now.UTC()
	return true
}

// ResetForRetry re-queues a failed task for a fresh retry cycle, clearing all
// results and execution metadata. A non-nil maxAttempts overrides the limit.
func (t *Task) ResetForRetry(maxAttempts *int, now time.Time) error {
	if t.Status != TaskStatusFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TaskStatusQueued)
	}
	if maxAttempts != nil && (*maxAttempts < 1 || *maxAttempts > MaxAllowedAttempts) {
		return ErrInvalidMaxAttempts
	}
	if err := t.transition(TaskStatusQueued, now); err != nil {
		return err
	}
	if maxAttempts != nil {
		t.MaxAttempts = *maxAttempts
	}
	t.Attempts = 0
	t.Output = nil
	t.Error = nil
	t.StartedAt = nil
	t.FinishedAt = nil
	t.LLMProvider = nil
	t.LLMModel = nil
	t.LatencyMS = nil
	return nil
}

func (t *Task) stampFinished(now time.Time, overwrite bool) {
	if t.FinishedAt != nil && !overwrite {
		return
	}
	finished := now.UTC()
	t.FinishedAt = &finished
}

// ChainPrompt builds a child task prompt that embeds the parent's output
// verbatim ahead of the new instruction.
func ChainPrompt(parentOutput, instruction string) string {
	return "Parent output:\n<<<\n" + parentOutput + "\n>>>\n\nInstruction:\n" + instruction + "\n"
}
