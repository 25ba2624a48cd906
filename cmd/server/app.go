package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/llm-orchestrator/internal/config"
	"github.com/phrazzld/llm-orchestrator/internal/dispatch"
	"github.com/phrazzld/llm-orchestrator/internal/generation"
	"github.com/phrazzld/llm-orchestrator/internal/platform/telemetry"
	"github.com/phrazzld/llm-orchestrator/internal/store"
	"github.com/phrazzld/llm-orchestrator/internal/task"
	"golang.org/x/sync/errgroup"
)

// application holds every long-lived dependency. Nothing is global; each
// component gets what it needs through its constructor.
type application struct {
	config *config.Config
	logger *slog.Logger

	telemetry  *telemetry.Provider
	store      store.Store
	dispatcher dispatch.Dispatcher
	consumer   dispatch.Consumer
	generator  generation.Generator

	service    *task.Service
	executor   *task.Executor
	scheduler  *task.Scheduler
	reconciler *task.Reconciler

	// closers run in reverse order on shutdown.
	closers []func() error
}

func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *application, err error) {
	app := &application{config: cfg, logger: log}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	app.telemetry, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.closers = append(app.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.telemetry.Shutdown(shutdownCtx)
	})

	metrics, err := telemetry.NewMetrics(app.telemetry.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	var closeStore func() error
	app.store, closeStore, err = openStore(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeStore)

	var closeQueue func() error
	app.dispatcher, app.consumer, closeQueue, err = openQueue(ctx, cfg.Queue, log)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeQueue)

	app.generator, err = newGenerator(ctx, cfg.LLM, log)
	if err != nil {
		return nil, err
	}

	opts := []task.Option{
		task.WithLogger(log),
		task.WithTelemetry(app.telemetry.Tracer, metrics),
	}

	app.service = task.NewService(app.store, app.dispatcher, cfg.Task.DefaultMaxAttempts, opts...)
	app.executor = task.NewExecutor(app.store, app.generator, app.dispatcher,
		task.ExecutorConfig{GenerationTimeout: cfg.LLM.RequestTimeout}, opts...)
	app.scheduler = task.NewScheduler(app.store, app.dispatcher, task.SchedulerConfig{
		PollInterval: cfg.Scheduler.PollInterval,
		Jitter:       cfg.Scheduler.Jitter,
		BatchSize:    cfg.Scheduler.BatchSize,
		BackoffMin:   cfg.Scheduler.BackoffMin,
		BackoffMax:   cfg.Scheduler.BackoffMax,
	}, opts...)

	if cfg.Reconciler.Enabled {
		app.reconciler, err = task.NewReconciler(app.store, app.dispatcher, task.ReconcilerConfig{
			Schedule:          cfg.Reconciler.Schedule,
			StaleQueuedAfter:  cfg.Reconciler.StaleQueuedAfter,
			StuckRunningAfter: cfg.Reconciler.StuckRunningAfter,
			BatchSize:         cfg.Reconciler.BatchSize,
		}, opts...)
		if err != nil {
			return nil, err
		}
	}

	log.Info("application initialized")
	return app, nil
}

// run starts the components selected by r and blocks until ctx ends or one
// of them fails.
func (app *application) run(ctx context.Context, r roles) error {
	if !r.all() && (app.config.Database.Driver == "memory" || app.config.Queue.Driver == "memory") {
		app.logger.Warn("in-process store or queue is not shared between processes; run -role=all")
	}

	g, ctx := errgroup.WithContext(ctx)

	if r.API {
		g.Go(func() error {
			return app.serveHTTP(ctx, app.setupRouter())
		})
	}

	if r.Worker {
		pool := task.NewWorkerPool(app.consumer, app.executor, task.WorkerPoolConfig{
			WorkerCount: app.config.Task.WorkerCount,
		}, app.logger)
		g.Go(func() error {
			pool.Start(ctx)
			<-ctx.Done()
			pool.Stop()
			return nil
		})
	}

	if r.Scheduler {
		g.Go(func() error {
			return app.scheduler.Run(ctx)
		})
		if app.reconciler != nil {
			g.Go(func() error {
				if err := app.reconciler.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				app.reconciler.Stop()
				return nil
			})
		}
	}

	app.logger.Info("application running",
		slog.Bool("api", r.API),
		slog.Bool("worker", r.Worker),
		slog.Bool("scheduler", r.Scheduler))
	return g.Wait()
}

// close releases resources in reverse order of acquisition.
func (app *application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error("failed to release resource", slog.String("error", err.Error()))
		}
	}
	app.closers = nil
}
