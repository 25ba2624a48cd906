package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/api/shared"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/platform/logger"
	"github.com/phrazzld/llm-orchestrator/internal/store"
	"github.com/phrazzld/llm-orchestrator/internal/task"
)

// TaskService is the set of task operations the HTTP layer calls.
// *task.Service implements it.
type TaskService interface {
	Create(ctx context.Context, params task.CreateParams) (*domain.Task, error)
	Chain(ctx context.Context, parentID uuid.UUID, params task.ChainParams) (*domain.Task, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Task, error)
	Retry(ctx context.Context, id uuid.UUID, maxAttempts *int) (*domain.Task, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	List(ctx context.Context, opts store.ListOptions) ([]*domain.Task, error)
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	service TaskService
	logger  *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(service TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		service: service,
		logger:  logger.With(slog.String("component", "task_handler")),
	}
}

// RegisterRoutes mounts the task endpoints on r.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.CreateTask)
		r.Get("/", h.ListTasks)
		r.Get("/{id}", h.GetTask)
		r.Post("/{id}/chain", h.ChainTask)
		r.Post("/{id}/retry", h.RetryTask)
		r.Post("/{id}/cancel", h.CancelTask)
	})
}

// CreateTask handles POST /tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	created, err := h.service.Create(r.Context(), task.CreateParams{
		Name:         req.Name,
		Prompt:       req.Prompt,
		ScheduledFor: req.ScheduledFor,
		MaxAttempts:  derefInt(req.MaxAttempts),
	})
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	h.log(r).Info("task created",
		slog.String("task_id", created.ID.String()),
		slog.String("status", string(created.Status)))
	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(created))
}

// ListTasks handles GET /tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	tasks, err := h.service.List(r.Context(), opts)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{
		Tasks:  tasksToResponse(tasks),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	got, err := h.service.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(got))
}

// ChainTask handles POST /tasks/{id}/chain.
func (h *TaskHandler) ChainTask(w http.ResponseWriter, r *http.Request) {
	parentID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ChainTaskRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	child, err := h.service.Chain(r.Context(), parentID, task.ChainParams{
		Name:         req.Name,
		Instruction:  req.Instruction,
		ScheduledFor: req.ScheduledFor,
		MaxAttempts:  derefInt(req.MaxAttempts),
	})
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	h.log(r).Info("task chained",
		slog.String("task_id", child.ID.String()),
		slog.String("parent_task_id", parentID.String()))
	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(child))
}

// RetryTask handles POST /tasks/{id}/retry.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req RetryTaskRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	retried, err := h.service.Retry(r.Context(), id, req.MaxAttempts)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	h.log(r).Info("task retried", slog.String("task_id", id.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(retried))
}

// CancelTask handles POST /tasks/{id}/cancel. Cancelling a terminal task
// returns it unchanged.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req CancelTaskRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(cancelled))
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{OK: true})
}

func (h *TaskHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		h.log(r).Debug("invalid task id", slog.String("value", chi.URLParam(r, "id")))
		HandleAPIError(w, r, err)
		return uuid.Nil, false
	}
	return id, true
}

// decode parses and validates the body, writing 400 for malformed JSON and
// 422 for failed validation.
func (h *TaskHandler) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	decode := shared.DecodeJSON
	if optional {
		decode = shared.DecodeOptionalJSON
	}
	if err := decode(w, r, v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		HandleAPIError(w, r, err)
		return false
	}
	return true
}

func (h *TaskHandler) log(r *http.Request) *slog.Logger {
	return logger.FromContextOrDefault(r.Context(), h.logger)
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
