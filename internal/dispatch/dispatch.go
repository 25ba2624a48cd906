package dispatch

import (
	"context"

	"github.com/google/uuid"
)

// Dispatcher hands a task ID to the workers.
type Dispatcher interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
}

// Consumer blocks until a task ID is available, ctx ends or the channel closes.
type Consumer interface {
	Dequeue(ctx context.Context) (uuid.UUID, error)
}
