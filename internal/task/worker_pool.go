package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/llm-orchestrator/internal/dispatch"
)

// WorkerPool manages a pool of worker goroutines that pull task IDs from a
// dispatch consumer and execute them. It handles graceful shutdown and worker
// lifecycle.
type WorkerPool struct {
	// consumer provides the task IDs to be processed
	consumer dispatch.Consumer

	// runner executes one task per ID
	runner Runner

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// errorDelay is the pause after a transport error
	errorDelay time.Duration

	// cancel stops the workers started by Start
	cancel context.CancelFunc

	logger *slog.Logger
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// ErrorDelay is how long a worker waits after a transport error before
	// polling again. Defaults to one second.
	ErrorDelay time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
		ErrorDelay:  time.Second,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(consumer dispatch.Consumer, runner Runner, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "worker_pool"))

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			slog.Int("specified_count", config.WorkerCount),
			slog.Int("default_count", 1))
	}

	return &WorkerPool{
		consumer:    consumer,
		runner:      runner,
		workerCount: workerCount,
		logger:      logger,
		errorDelay:  orDefault(config.ErrorDelay, time.Second),
	}
}

// Start launches the workers. They run until ctx is cancelled, Stop is
// called or the consumer is closed.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("starting worker pool", slog.Int("worker_count", p.workerCount))
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop stops dequeuing and waits for in-flight executions to finish. Running
// generations are not cancelled.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Wait blocks until every worker has exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.logger.With(slog.Int("worker_id", id))
	log.Debug("starting worker")

	for {
		taskID, err := p.consumer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("stopping worker")
				return
			}
			if errors.Is(err, dispatch.ErrQueueClosed) {
				log.Debug("dispatch queue closed, stopping worker")
				return
			}
			log.Error("failed to dequeue task", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.errorDelay):
			}
			continue
		}

		// Stop only ends the dequeue loop. An execution that has started runs
		// to completion, bounded by the executor's generation timeout.
		p.runner.Execute(context.WithoutCancel(ctx), taskID)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
