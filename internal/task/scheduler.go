package task

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/dispatch"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/platform/telemetry"
	"github.com/phrazzld/llm-orchestrator/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// SchedulerConfig controls the due-task claim loop.
type SchedulerConfig struct {
	PollInterval time.Duration
	Jitter       time.Duration
	BatchSize    int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

// DefaultSchedulerConfig returns a SchedulerConfig with reasonable defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval: 2 * time.Second,
		Jitter:       250 * time.Millisecond,
		BatchSize:    10,
		BackoffMin:   time.Second,
		BackoffMax:   15 * time.Second,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	def := DefaultSchedulerConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = def.BackoffMin
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = max(def.BackoffMax, c.BackoffMin)
	}
	return c
}

// Scheduler promotes due scheduled tasks to queued and dispatches them.
//
// Rows are claimed under non-blocking locks, so any number of schedulers can
// poll the same store without claiming a task twice.
type Scheduler struct {
	store      store.Store
	dispatcher dispatch.Dispatcher
	config     SchedulerConfig
	deps
}

// NewScheduler creates a Scheduler.
func NewScheduler(s store.Store, d dispatch.Dispatcher, config SchedulerConfig, opts ...Option) *Scheduler {
	return &Scheduler{
		store:      s,
		dispatcher: d,
		config:     config.withDefaults(),
		deps:       newDeps("task_scheduler", opts),
	}
}

// Tick claims one batch of due tasks and dispatches them after the claim
// commits. It returns the number of tasks claimed. A store error aborts the
// whole batch; dispatch errors are logged and leave the task queued for the
// reconciler.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "scheduler.tick")
	defer span.End()

	var claimed []uuid.UUID
	err := s.store.InTx(ctx, func(ctx context.Context, tasks store.TaskStore) error {
		claimed = claimed[:0]
		now := s.clock()

		due, err := tasks.SelectDueScheduled(ctx, now, s.config.BatchSize)
		if err != nil {
			return err
		}

		for _, task := range due {
			if task.Status != domain.TaskStatusScheduled {
				continue
			}
			if err := task.MarkQueued(now); err != nil {
				return err
			}
			if err := tasks.Update(ctx, task); err != nil {
				return err
			}
			claimed = append(claimed, task.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int("orch.scheduler.claimed", len(claimed)))
	for _, id := range claimed {
		s.metrics.RecordClaim(ctx, "scheduler")
		s.metrics.RecordTransition(ctx, string(domain.TaskStatusQueued))
		if err := s.dispatcher.Enqueue(ctx, id); err != nil {
			s.metrics.RecordDispatchError(ctx)
			s.logger.Error("failed to dispatch claimed task",
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
		}
	}
	if len(claimed) > 0 {
		s.logger.Info("scheduled tasks queued", slog.Int("count", len(claimed)))
	}
	return len(claimed), nil
}

// Run polls until ctx is cancelled. Store errors back off exponentially
// between BackoffMin and BackoffMax; the first successful tick resets the
// backoff and normal polling resumes.
func (s *Scheduler) Run(ctx context.Context) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.config.BackoffMin,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         s.config.BackoffMax,
	}
	b.Reset()

	s.logger.Info("scheduler started",
		slog.Duration("poll_interval", s.config.PollInterval),
		slog.Int("batch_size", s.config.BatchSize))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}

		var wait time.Duration
		if _, err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			wait = b.NextBackOff()
			s.logger.Warn("scheduler tick failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("delay", wait))
		} else {
			b.Reset()
			wait = s.config.PollInterval + s.jitter()
		}
		timer.Reset(wait)
	}
}

func (s *Scheduler) jitter() time.Duration {
	if s.config.Jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(s.config.Jitter) + 1))
}
