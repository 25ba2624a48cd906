package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/dispatch"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/platform/logger"
	"github.com/phrazzld/llm-orchestrator/internal/platform/telemetry"
	"github.com/phrazzld/llm-orchestrator/internal/store"
)

// Service errors
var (
	// ErrNotRetryable is returned by Retry for tasks that are not failed.
	ErrNotRetryable = errors.New("only failed tasks can be retried")

	// ErrParentNotCompleted is returned by Chain when the parent has no
	// completed output to build on.
	ErrParentNotCompleted = errors.New("parent task must be completed with output")
)

// CreateParams holds the caller-supplied fields of a new task.
type CreateParams struct {
	Name         string
	Prompt       string
	ScheduledFor *time.Time
	MaxAttempts  int
}

// ChainParams holds the fields of a child task built on a parent's output.
type ChainParams struct {
	Name         string
	Instruction  string
	ScheduledFor *time.Time
	MaxAttempts  int
}

// Service implements the upstream operations on tasks: create, chain,
// cancel, retry and the read queries.
type Service struct {
	store              store.Store
	dispatcher         dispatch.Dispatcher
	defaultMaxAttempts int
	deps
}

// NewService creates a Service. defaultMaxAttempts applies to tasks created
// without an explicit limit; zero means domain.DefaultMaxAttempts.
func NewService(s store.Store, d dispatch.Dispatcher, defaultMaxAttempts int, opts ...Option) *Service {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = domain.DefaultMaxAttempts
	}
	return &Service{
		store:              s,
		dispatcher:         d,
		defaultMaxAttempts: defaultMaxAttempts,
		deps:               newDeps("task_service", opts),
	}
}

// Create inserts a task and dispatches it when its initial status is queued.
func (s *Service) Create(ctx context.Context, params CreateParams) (*domain.Task, error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "task.create")
	defer span.End()

	task, err := domain.NewTask(domain.NewTaskParams{
		Name:         strings.TrimSpace(params.Name),
		Prompt:       params.Prompt,
		ScheduledFor: params.ScheduledFor,
		MaxAttempts:  s.maxAttempts(params.MaxAttempts),
	}, s.clock())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	return s.insert(ctx, task)
}

// Chain creates a child task whose prompt embeds the parent's output. The
// parent must be completed with non-empty output.
func (s *Service) Chain(ctx context.Context, parentID uuid.UUID, params ChainParams) (*domain.Task, error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "task.chain",
		telemetry.AttrTaskID.String(parentID.String()))
	defer span.End()

	instruction := strings.TrimSpace(params.Instruction)
	if instruction == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyInstruction)
	}

	parent, err := s.store.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Status != domain.TaskStatusCompleted || parent.Output == nil || *parent.Output == "" {
		return nil, fmt.Errorf("%w: parent %s is %s", ErrParentNotCompleted, parentID, parent.Status)
	}

	task, err := domain.NewTask(domain.NewTaskParams{
		Name:         strings.TrimSpace(params.Name),
		Prompt:       domain.ChainPrompt(*parent.Output, instruction),
		ScheduledFor: params.ScheduledFor,
		MaxAttempts:  s.maxAttempts(params.MaxAttempts),
		ParentTaskID: &parent.ID,
	}, s.clock())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	return s.insert(ctx, task)
}

// Cancel moves a non-terminal task to cancelled. Cancelling a terminal task
// changes nothing and returns it as is.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Task, error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "task.cancel", telemetry.AttrTaskID.String(id.String()))
	defer span.End()

	var (
		result  *domain.Task
		changed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tasks store.TaskStore) error {
		task, err := tasks.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		result = task
		changed = task.Cancel(s.clock())
		if !changed {
			return nil
		}
		return tasks.Update(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.RecordTransition(ctx, string(domain.TaskStatusCancelled))
		attrs := []any{slog.String("task_id", id.String())}
		if reason != "" {
			attrs = append(attrs, slog.String("reason", reason))
		}
		logger.FromContextOrDefault(ctx, s.logger).Info("task cancelled", attrs...)
	}
	return result, nil
}

// Retry re-queues a failed task with a fresh attempt budget and dispatches it
// exactly once. A non-nil maxAttempts overrides the task's limit.
func (s *Service) Retry(ctx context.Context, id uuid.UUID, maxAttempts *int) (*domain.Task, error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "task.retry", telemetry.AttrTaskID.String(id.String()))
	defer span.End()

	var result *domain.Task
	err := s.store.InTx(ctx, func(ctx context.Context, tasks store.TaskStore) error {
		task, err := tasks.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if task.Status != domain.TaskStatusFailed {
			return fmt.Errorf("%w: task is %s", ErrNotRetryable, task.Status)
		}
		if err := task.ResetForRetry(maxAttempts, s.clock()); err != nil {
			if errors.Is(err, domain.ErrInvalidMaxAttempts) {
				return fmt.Errorf("%w: %w", domain.ErrValidation, err)
			}
			return err
		}
		result = task
		return tasks.Update(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(ctx, string(domain.TaskStatusQueued))
	s.dispatch(ctx, result)
	return result, nil
}

// Get returns a task by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.store.GetByID(ctx, id)
}

// List returns tasks newest first.
func (s *Service) List(ctx context.Context, opts store.ListOptions) ([]*domain.Task, error) {
	return s.store.List(ctx, opts)
}

func (s *Service) insert(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(ctx, string(task.Status))
	logger.FromContextOrDefault(ctx, s.logger).Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))

	if task.Status == domain.TaskStatusQueued {
		s.dispatch(ctx, task)
	}
	return task, nil
}

// dispatch enqueues a committed task. Failure leaves the task queued for the
// reconciler; the caller's operation still succeeded.
func (s *Service) dispatch(ctx context.Context, task *domain.Task) {
	if err := s.dispatcher.Enqueue(ctx, task.ID); err != nil {
		s.metrics.RecordDispatchError(ctx)
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to dispatch task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
	}
}

func (s *Service) maxAttempts(requested int) int {
	if requested == 0 {
		return s.defaultMaxAttempts
	}
	return requested
}
