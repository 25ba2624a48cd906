package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher records enqueued task IDs. It satisfies dispatch.Dispatcher.
type Dispatcher struct {
	// EnqueueFn allows test cases to override Enqueue; the call is recorded
	// only when it returns nil.
	EnqueueFn func(ctx context.Context, id uuid.UUID) error

	mu  sync.Mutex
	ids []uuid.UUID
}

// Enqueue records id.
func (d *Dispatcher) Enqueue(ctx context.Context, id uuid.UUID) error {
	if d.EnqueueFn != nil {
		if err := d.EnqueueFn(ctx, id); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.ids = append(d.ids, id)
	d.mu.Unlock()
	return nil
}

// Enqueued returns every recorded ID, in call order.
func (d *Dispatcher) Enqueued() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uuid.UUID(nil), d.ids...)
}

// Count returns how many times id was enqueued.
func (d *Dispatcher) Count(id uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, got := range d.ids {
		if got == id {
			n++
		}
	}
	return n
}

// Reset forgets all recorded IDs.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.ids = nil
	d.mu.Unlock()
}
