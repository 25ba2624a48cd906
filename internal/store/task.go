package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
)

const (
	// DefaultListLimit is applied when ListOptions.Limit is zero.
	DefaultListLimit = 50
	// MaxListLimit caps ListOptions.Limit.
	MaxListLimit = 200
)

// ListOptions filters and paginates task listings. Results are ordered by
// created_at, newest first.
type ListOptions struct {
	Limit        int
	Offset       int
	ParentTaskID *uuid.UUID
}

// Normalize clamps the options to their allowed ranges.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// TaskStore defines the interface for task data persistence.
// Version: 1.0
type TaskStore interface {
	// Create inserts a new task.
	// Returns ErrInvalidEntity if the task fails validation and
	// ErrParentTaskNotFound if its parent does not exist.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetForUpdate retrieves a task and holds its row lock until the
	// surrounding transaction ends. Outside a transaction it behaves like GetByID.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update persists every mutable field of an existing task.
	// Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, task *domain.Task) error

	// List returns tasks matching opts, newest first.
	List(ctx context.Context, opts ListOptions) ([]*domain.Task, error)

	// SelectDueScheduled returns up to limit scheduled tasks whose
	// scheduled_for is at or before now, oldest due first. Rows locked by
	// another transaction are skipped rather than waited on.
	SelectDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error)

	// SelectStaleQueued returns up to limit queued tasks last updated before cutoff.
	SelectStaleQueued(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error)

	// SelectStuckRunning returns up to limit running tasks last updated before cutoff.
	SelectStuckRunning(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error)
}

// Transactor runs a unit of work atomically. The TaskStore handed to fn is
// bound to the transaction; fn's error rolls everything back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tasks TaskStore) error) error
}

// Store is a TaskStore that can also run transactions.
type Store interface {
	TaskStore
	Transactor
}
