package api

import (
	"time"

	"github.com/phrazzld/llm-orchestrator/internal/domain"
)

// CreateTaskRequest defines the payload for POST /tasks.
type CreateTaskRequest struct {
	Name         string     `json:"name"          validate:"required,max=200"`
	Prompt       string     `json:"prompt"        validate:"required"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	MaxAttempts  *int       `json:"max_attempts"  validate:"omitempty,min=1,max=20"`
}

// ChainTaskRequest defines the payload for POST /tasks/{id}/chain.
type ChainTaskRequest struct {
	Name         string     `json:"name"          validate:"required,max=200"`
	Instruction  string     `json:"instruction"   validate:"required"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	MaxAttempts  *int       `json:"max_attempts"  validate:"omitempty,min=1,max=20"`
}

// RetryTaskRequest defines the optional payload for POST /tasks/{id}/retry.
type RetryTaskRequest struct {
	MaxAttempts *int `json:"max_attempts" validate:"omitempty,min=1,max=20"`
}

// CancelTaskRequest defines the optional payload for POST /tasks/{id}/cancel.
type CancelTaskRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// TaskResponse is the wire form of a task.
type TaskResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Prompt       string     `json:"prompt"`
	Status       string     `json:"status"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	Output       *string    `json:"output"`
	Error        *string    `json:"error"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ParentTaskID *string    `json:"parent_task_id"`
	LLMProvider  *string    `json:"llm_provider"`
	LLMModel     *string    `json:"llm_model"`
	LatencyMS    *int64     `json:"latency_ms"`
}

// TaskListResponse wraps a page of tasks.
type TaskListResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	OK bool `json:"ok"`
}

// taskToResponse converts a domain.Task to a TaskResponse
func taskToResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:           t.ID.String(),
		Name:         t.Name,
		Prompt:       t.Prompt,
		Status:       string(t.Status),
		ScheduledFor: t.ScheduledFor,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		StartedAt:    t.StartedAt,
		FinishedAt:   t.FinishedAt,
		Output:       t.Output,
		Error:        t.Error,
		Attempts:     t.Attempts,
		MaxAttempts:  t.MaxAttempts,
		LLMProvider:  t.LLMProvider,
		LLMModel:     t.LLMModel,
		LatencyMS:    t.LatencyMS,
	}
	if t.ParentTaskID != nil {
		parent := t.ParentTaskID.String()
		resp.ParentTaskID = &parent
	}
	return resp
}

func tasksToResponse(tasks []*domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	return out
}
