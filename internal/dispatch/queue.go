package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Common errors returned by the Queue
var (
	ErrQueueClosed = errors.New("dispatch queue is closed")
	ErrQueueFull   = errors.New("dispatch queue is full")
)

// Queue is an in-process buffered channel implementing both Dispatcher and
// Consumer. IDs in the buffer are lost when the process exits; the
// reconciler re-dispatches them.
type Queue struct {
	ids    chan uuid.UUID
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var (
	_ Dispatcher = (*Queue)(nil)
	_ Consumer   = (*Queue)(nil)
)

// NewQueue creates a new queue with the specified buffer size.
func NewQueue(size int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		ids:    make(chan uuid.UUID, size),
		logger: logger.With(slog.String("component", "dispatch_queue")),
	}
}

// Enqueue adds a task ID without blocking.
// Returns an error if the queue is full or closed.
func (q *Queue) Enqueue(_ context.Context, id uuid.UUID) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ids <- id:
		q.logger.Debug("task dispatched",
			slog.String("task_id", id.String()),
			slog.Int("queue_len", len(q.ids)),
			slog.Int("queue_cap", cap(q.ids)))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.ids))
	}
}

// Dequeue implements Consumer. After Close it drains the buffer, then
// returns ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case id, ok := <-q.ids:
		if !ok {
			return uuid.Nil, ErrQueueClosed
		}
		return id, nil
	}
}

// Len returns the number of buffered IDs.
func (q *Queue) Len() int {
	return len(q.ids)
}

// Close closes the queue, preventing further dispatch.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ids)
		q.logger.Info("dispatch queue closed")
	}
	return nil
}
