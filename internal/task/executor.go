package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/dispatch"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/generation"
	"github.com/phrazzld/llm-orchestrator/internal/platform/logger"
	"github.com/phrazzld/llm-orchestrator/internal/platform/telemetry"
	"github.com/phrazzld/llm-orchestrator/internal/redact"
	"github.com/phrazzld/llm-orchestrator/internal/store"
	"go.opentelemetry.io/otel/codes"
)

// Outcome describes what a single Execute call did.
type Outcome string

// Possible execution outcomes
const (
	// OutcomeSkipped means the task was missing, not queued, or already terminal.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeCompleted means generation succeeded and the task is completed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRequeued means the attempt failed and the task was re-dispatched.
	OutcomeRequeued Outcome = "requeued"
	// OutcomeFailed means the attempt failed with no attempts remaining.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means a cancellation was observed at a checkpoint.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeAbandoned means another actor took the running row over.
	OutcomeAbandoned Outcome = "abandoned"
	// OutcomeErrored means a store failure prevented recording the result.
	OutcomeErrored Outcome = "errored"
)

// Runner executes one task by ID. The WorkerPool depends on this.
type Runner interface {
	Execute(ctx context.Context, id uuid.UUID) Outcome
}

// ExecutorConfig holds executor settings.
type ExecutorConfig struct {
	// GenerationTimeout bounds a single generation call. Zero means no bound.
	GenerationTimeout time.Duration
}

// Executor claims a queued task, runs generation and records the result.
//
// It is safe to call Execute concurrently for the same ID: the queued to
// running claim is a locked read-modify-write, so exactly one caller wins and
// the others return OutcomeSkipped.
type Executor struct {
	store      store.Store
	generator  generation.Generator
	dispatcher dispatch.Dispatcher
	config     ExecutorConfig
	deps
}

var _ Runner = (*Executor)(nil)

// NewExecutor creates an Executor.
func NewExecutor(
	s store.Store,
	g generation.Generator,
	d dispatch.Dispatcher,
	config ExecutorConfig,
	opts ...Option,
) *Executor {
	return &Executor{
		store:      s,
		generator:  g,
		dispatcher: d,
		config:     config,
		deps:       newDeps("task_executor", opts),
	}
}

// Execute runs one attempt of the task. It never panics and never returns an
// error: every failure is either recorded on the task or logged, so the
// transport's own redelivery never interferes with task-level retries.
func (e *Executor) Execute(ctx context.Context, id uuid.UUID) (outcome Outcome) {
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "task.execute", telemetry.AttrTaskID.String(id.String()))
	log := logger.FromContextOrDefault(ctx, e.logger).With(slog.String("task_id", id.String()))

	defer func() {
		if r := recover(); r != nil {
			log.Error("executor panic", slog.Any("panic", r))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			outcome = OutcomeErrored
		}
		span.SetAttributes(telemetry.AttrOutcome.String(string(outcome)))
		span.End()
		e.metrics.RecordExecution(ctx, string(outcome))
		log.Debug("execution finished", slog.String("outcome", string(outcome)))
	}()

	// Checkpoint (a) runs inside the claim transaction.
	claimed, outcome := e.claim(ctx, id, log)
	if claimed == nil {
		return outcome
	}

	// Results must be recorded even if the worker is shutting down.
	persistCtx := context.WithoutCancel(ctx)

	// Checkpoint (b): the row may have been cancelled right after our commit.
	current, err := e.store.GetByID(persistCtx, id)
	if err != nil {
		log.Error("failed to re-read claimed task", slog.String("error", err.Error()))
		return OutcomeErrored
	}
	if current.Status == domain.TaskStatusCancelled {
		return e.observeCancelled(persistCtx, id, log)
	}
	if current.Status != domain.TaskStatusRunning || current.Attempts != claimed.Attempts {
		log.Warn("claimed task changed hands before generation",
			slog.String("status", string(current.Status)),
			slog.Int("attempts", current.Attempts))
		return OutcomeAbandoned
	}

	res := e.generate(ctx, current)

	// Checkpoint (c) runs inside the finalize transaction.
	return e.finalize(persistCtx, id, claimed.Attempts, res, log)
}

// claim performs the queued to running transition. A nil task means there is
// nothing to run and the returned outcome says why.
func (e *Executor) claim(ctx context.Context, id uuid.UUID, log *slog.Logger) (*domain.Task, Outcome) {
	var (
		claimed *domain.Task
		outcome Outcome
	)

	err := e.store.InTx(ctx, func(ctx context.Context, tasks store.TaskStore) error {
		claimed, outcome = nil, OutcomeSkipped

		task, err := tasks.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch task.Status {
		case domain.TaskStatusQueued:
		case domain.TaskStatusCancelled:
			if task.StampCancelled(e.clock()) {
				outcome = OutcomeCancelled
				return tasks.Update(ctx, task)
			}
			return nil
		default:
			log.Debug("task not claimable", slog.String("status", string(task.Status)))
			return nil
		}

		if err := task.MarkRunning(e.clock()); err != nil {
			return err
		}
		if err := tasks.Update(ctx, task); err != nil {
			return err
		}
		claimed = task
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			log.Warn("dispatched task does not exist")
			return nil, OutcomeSkipped
		}
		log.Error("failed to claim task", slog.String("error", err.Error()))
		return nil, OutcomeErrored
	}

	if claimed != nil {
		e.metrics.RecordClaim(ctx, "executor")
		e.metrics.RecordTransition(ctx, string(domain.TaskStatusRunning))
		log.Info("task claimed", slog.Int("attempt", claimed.Attempts))
	}
	return claimed, outcome
}

func (e *Executor) generate(ctx context.Context, task *domain.Task) generation.Result {
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "task.generate",
		telemetry.AttrTaskID.String(task.ID.String()),
		telemetry.AttrProvider.String(e.generator.Provider()),
		telemetry.AttrModel.String(e.generator.Model()))
	defer span.End()

	if e.config.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.GenerationTimeout)
		defer cancel()
	}

	res := generation.Run(ctx, e.generator, task.Prompt)
	e.metrics.RecordGeneration(ctx, res.Provider, res.Model, res.Latency.Seconds(), res.OK())
	if !res.OK() {
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}

// finalize records the generation result unless the task was cancelled or
// taken over while generation ran.
func (e *Executor) finalize(
	ctx context.Context,
	id uuid.UUID,
	attempt int,
	res generation.Result,
	log *slog.Logger,
) Outcome {
	var (
		outcome Outcome
		requeue bool
	)

	err := e.store.InTx(ctx, func(ctx context.Context, tasks store.TaskStore) error {
		requeue = false

		task, err := tasks.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if task.Status == domain.TaskStatusCancelled {
			outcome = OutcomeCancelled
			if task.StampCancelled(e.clock()) {
				return tasks.Update(ctx, task)
			}
			return nil
		}
		if task.Status != domain.TaskStatusRunning || task.Attempts != attempt {
			outcome = OutcomeAbandoned
			return nil
		}

		if res.OK() {
			if err := task.MarkCompleted(res.Output, res.Provider, res.Model, res.Latency, e.clock()); err != nil {
				return err
			}
			outcome = OutcomeCompleted
		} else {
			requeue, err = task.RecordFailure(redact.Error(res.Err), e.clock())
			if err != nil {
				return err
			}
			outcome = OutcomeFailed
			if requeue {
				outcome = OutcomeRequeued
			}
		}
		return tasks.Update(ctx, task)
	})
	if err != nil {
		log.Error("failed to record generation result",
			slog.Bool("generation_ok", res.OK()),
			slog.String("error", err.Error()))
		return OutcomeErrored
	}

	switch outcome {
	case OutcomeCompleted:
		e.metrics.RecordTransition(ctx, string(domain.TaskStatusCompleted))
		log.Info("task completed",
			slog.String("provider", res.Provider),
			slog.Int64("latency_ms", res.Latency.Milliseconds()))
	case OutcomeRequeued:
		e.metrics.RecordTransition(ctx, string(domain.TaskStatusQueued))
		log.Warn("attempt failed, requeueing", slog.String("error", redact.Error(res.Err)))
		if err := e.dispatcher.Enqueue(ctx, id); err != nil {
			e.metrics.RecordDispatchError(ctx)
			log.Error("failed to re-dispatch task", slog.String("error", err.Error()))
		}
	case OutcomeFailed:
		e.metrics.RecordTransition(ctx, string(domain.TaskStatusFailed))
		log.Warn("task failed, no attempts remaining", slog.String("error", redact.Error(res.Err)))
	case OutcomeCancelled:
		log.Info("task cancelled during generation, result discarded")
	case OutcomeAbandoned:
		log.Warn("task changed hands during generation, result discarded")
	}
	return outcome
}

func (e *Executor) observeCancelled(ctx context.Context, id uuid.UUID, log *slog.Logger) Outcome {
	err := e.store.InTx(ctx, func(ctx context.Context, tasks store.TaskStore) error {
		task, err := tasks.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if task.StampCancelled(e.clock()) {
			return tasks.Update(ctx, task)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to stamp cancelled task", slog.String("error", err.Error()))
		return OutcomeErrored
	}
	log.Info("task cancelled before generation")
	return OutcomeCancelled
}
