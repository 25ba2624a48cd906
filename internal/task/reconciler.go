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
	"github.com/phrazzld/llm-orchestrator/internal/platform/telemetry"
	"github.com/phrazzld/llm-orchestrator/internal/store"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
)

// ReconcilerConfig holds configuration for the orphan sweep.
type ReconcilerConfig struct {
	// Schedule is a cron spec or descriptor such as "@every 1m".
	Schedule string

	// StaleQueuedAfter is how long a task may sit in queued before it is
	// dispatched again. Zero disables the queued sweep.
	StaleQueuedAfter time.Duration

	// StuckRunningAfter is how long a task may stay running without progress
	// before its attempt is failed. Zero disables the running sweep.
	StuckRunningAfter time.Duration

	// BatchSize bounds each sweep phase.
	BatchSize int
}

// DefaultReconcilerConfig returns a ReconcilerConfig with reasonable defaults
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Schedule:         "@every 1m",
		StaleQueuedAfter: 10 * time.Minute,
		BatchSize:        100,
	}
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Redispatched int
	Requeued     int
	Failed       int
}

// errStuckRunning is recorded on attempts failed by the running sweep.
var errStuckRunning = errors.New("attempt abandoned: no progress while running")

// Reconciler closes the gap between a committed state change and its
// dispatch. A crash after commit leaves a task queued with no message in
// flight; the sweep finds such tasks and dispatches them again. Optionally it
// also fails over attempts whose worker died mid-run, through the normal
// retry-or-fail rule.
//
// Re-dispatching a task that is in fact still in the transport is harmless:
// the executor's atomic claim lets only one delivery run.
type Reconciler struct {
	store      store.Store
	dispatcher dispatch.Dispatcher
	config     ReconcilerConfig
	cron       *cron.Cron
	deps
}

// NewReconciler validates the schedule and creates a Reconciler.
func NewReconciler(s store.Store, d dispatch.Dispatcher, config ReconcilerConfig, opts ...Option) (*Reconciler, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultReconcilerConfig().Schedule
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid reconciler schedule %q: %w", config.Schedule, err)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultReconcilerConfig().BatchSize
	}

	return &Reconciler{
		store:      s,
		dispatcher: d,
		config:     config,
		deps:       newDeps("task_reconciler", opts),
	}, nil
}

// Start runs Sweep on the configured schedule until Stop is called or ctx
// ends. Overlapping sweeps are skipped.
func (r *Reconciler) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := r.cron.AddFunc(r.config.Schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("reconciler sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciler: %w", err)
	}

	r.cron.Start()
	r.logger.Info("reconciler started",
		slog.String("schedule", r.config.Schedule),
		slog.Duration("stale_queued_after", r.config.StaleQueuedAfter),
		slog.Duration("stuck_running_after", r.config.StuckRunningAfter))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.logger.Info("reconciler stopped")
}

// Sweep runs both phases once. Dispatch errors are logged, not returned; the
// next sweep retries them.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, r.tracer, "reconciler.sweep")
	defer span.End()

	var result SweepResult

	if r.config.StaleQueuedAfter > 0 {
		ids, err := r.touchStaleQueued(ctx)
		if err != nil {
			return result, fmt.Errorf("sweep stale queued tasks: %w", err)
		}
		result.Redispatched = r.dispatchAll(ctx, ids, "stale queued task re-dispatched")
	}

	if r.config.StuckRunningAfter > 0 {
		requeued, failed, err := r.failStuckRunning(ctx)
		if err != nil {
			return result, fmt.Errorf("sweep stuck running tasks: %w", err)
		}
		result.Requeued = r.dispatchAll(ctx, requeued, "stuck running task requeued")
		result.Failed = failed
	}

	span.SetAttributes(
		attribute.Int("orch.reconciler.redispatched", result.Redispatched),
		attribute.Int("orch.reconciler.requeued", result.Requeued),
		attribute.Int("orch.reconciler.failed", result.Failed),
	)
	if result != (SweepResult{}) {
		r.logger.Info("reconciler sweep changed tasks",
			slog.Int("redispatched", result.Redispatched),
			slog.Int("requeued", result.Requeued),
			slog.Int("failed", result.Failed))
	}
	return result, nil
}

// touchStaleQueued bumps updated_at on stale queued rows so the next sweep
// gives the new dispatch a full window before trying again.
func (r *Reconciler) touchStaleQueued(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.store.InTx(ctx, func(ctx context.Context, tasks store.TaskStore) error {
		ids = ids[:0]
		now := r.clock()

		stale, err := tasks.SelectStaleQueued(ctx, now.Add(-r.config.StaleQueuedAfter), r.config.BatchSize)
		if err != nil {
			return err
		}
		for _, task := range stale {
			if task.Status != domain.TaskStatusQueued {
				continue
			}
			task.UpdatedAt = now
			if err := tasks.Update(ctx, task); err != nil {
				return err
			}
			ids = append(ids, task.ID)
		}
		return nil
	})
	return ids, err
}

func (r *Reconciler) failStuckRunning(ctx context.Context) ([]uuid.UUID, int, error) {
	var (
		requeued []uuid.UUID
		failed   int
	)
	err := r.store.InTx(ctx, func(ctx context.Context, tasks store.TaskStore) error {
		requeued, failed = requeued[:0], 0
		now := r.clock()

		stuck, err := tasks.SelectStuckRunning(ctx, now.Add(-r.config.StuckRunningAfter), r.config.BatchSize)
		if err != nil {
			return err
		}
		for _, task := range stuck {
			if task.Status != domain.TaskStatusRunning {
				continue
			}
			requeue, err := task.RecordFailure(errStuckRunning.Error(), now)
			if err != nil {
				return err
			}
			if err := tasks.Update(ctx, task); err != nil {
				return err
			}
			if requeue {
				requeued = append(requeued, task.ID)
			} else {
				failed++
			}
		}
		return nil
	})
	if err == nil {
		for range requeued {
			r.metrics.RecordTransition(ctx, string(domain.TaskStatusQueued))
		}
		for i := 0; i < failed; i++ {
			r.metrics.RecordTransition(ctx, string(domain.TaskStatusFailed))
		}
	}
	return requeued, failed, err
}

func (r *Reconciler) dispatchAll(ctx context.Context, ids []uuid.UUID, msg string) int {
	sent := 0
	for _, id := range ids {
		if err := r.dispatcher.Enqueue(ctx, id); err != nil {
			r.metrics.RecordDispatchError(ctx)
			r.logger.Error("reconciler failed to dispatch task",
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
			continue
		}
		r.logger.Info(msg, slog.String("task_id", id.String()))
		sent++
	}
	return sent
}
