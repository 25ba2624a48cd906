package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/platform/logger"
	"github.com/phrazzld/llm-orchestrator/internal/store"
)

// TaskStore is a mutex-guarded map of tasks.
type TaskStore struct {
	mu     sync.Mutex // held for the whole of every transaction
	tasks  map[uuid.UUID]*domain.Task
	logger *slog.Logger
}

// NewTaskStore creates an empty in-memory task store.
// If logger is nil, a default logger will be used.
func NewTaskStore(logger *slog.Logger) *TaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{
		tasks:  make(map[uuid.UUID]*domain.Task),
		logger: logger.With(slog.String("component", "memory_task_store")),
	}
}

var (
	_ store.Store = (*TaskStore)(nil)
	_ store.Store = (*txStore)(nil)
)

// InTx implements store.Transactor.
func (s *TaskStore) InTx(ctx context.Context, fn func(ctx context.Context, tasks store.TaskStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txStore{parent: s, writes: make(map[uuid.UUID]*domain.Task)}
	if err := fn(ctx, tx); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Debug("rolled back transaction due to error",
			slog.String("error", err.Error()))
		return err
	}

	for id, task := range tx.writes {
		s.tasks[id] = task
	}
	return nil
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	return s.InTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		return tx.Create(ctx, task)
	})
}

// GetByID implements store.TaskStore.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (task *domain.Task, err error) {
	err = s.InTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		task, err = tx.GetByID(ctx, id)
		return err
	})
	return task, err
}

// GetForUpdate implements store.TaskStore. Outside a transaction it is GetByID.
func (s *TaskStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.GetByID(ctx, id)
}

// Update implements store.TaskStore.
func (s *TaskStore) Update(ctx context.Context, task *domain.Task) error {
	return s.InTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		return tx.Update(ctx, task)
	})
}

// List implements store.TaskStore.
func (s *TaskStore) List(ctx context.Context, opts store.ListOptions) (tasks []*domain.Task, err error) {
	err = s.InTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		tasks, err = tx.List(ctx, opts)
		return err
	})
	return tasks, err
}

// SelectDueScheduled implements store.TaskStore.
func (s *TaskStore) SelectDueScheduled(ctx context.Context, now time.Time, limit int) (tasks []*domain.Task, err error) {
	err = s.InTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		tasks, err = tx.SelectDueScheduled(ctx, now, limit)
		return err
	})
	return tasks, err
}

// SelectStaleQueued implements store.TaskStore.
func (s *TaskStore) SelectStaleQueued(ctx context.Context, cutoff time.Time, limit int) (tasks []*domain.Task, err error) {
	err = s.InTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		tasks, err = tx.SelectStaleQueued(ctx, cutoff, limit)
		return err
	})
	return tasks, err
}

// SelectStuckRunning implements store.TaskStore.
func (s *TaskStore) SelectStuckRunning(ctx context.Context, cutoff time.Time, limit int) (tasks []*domain.Task, err error) {
	err = s.InTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		tasks, err = tx.SelectStuckRunning(ctx, cutoff, limit)
		return err
	})
	return tasks, err
}

// txStore is the transaction-bound view handed to InTx callbacks. It reads
// through its staged writes to the committed map; the parent mutex is held.
type txStore struct {
	parent *TaskStore
	writes map[uuid.UUID]*domain.Task
}

func (tx *txStore) InTx(ctx context.Context, fn func(ctx context.Context, tasks store.TaskStore) error) error {
	return fn(ctx, tx)
}

func (tx *txStore) lookup(id uuid.UUID) (*domain.Task, bool) {
	if task, ok := tx.writes[id]; ok {
		return task, true
	}
	task, ok := tx.parent.tasks[id]
	return task, ok
}

func (tx *txStore) all() []*domain.Task {
	out := make([]*domain.Task, 0, len(tx.parent.tasks)+len(tx.writes))
	for id, task := range tx.parent.tasks {
		if _, staged := tx.writes[id]; !staged {
			out = append(out, task)
		}
	}
	for _, task := range tx.writes {
		out = append(out, task)
	}
	return out
}

func (tx *txStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	if _, exists := tx.lookup(task.ID); exists {
		return fmt.Errorf("%w: task %s", store.ErrDuplicate, task.ID)
	}
	if task.ParentTaskID != nil {
		if _, exists := tx.lookup(*task.ParentTaskID); !exists {
			return store.ErrParentTaskNotFound
		}
	}
	tx.writes[task.ID] = cloneTask(task)
	return nil
}

func (tx *txStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	task, ok := tx.lookup(id)
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (tx *txStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return tx.GetByID(ctx, id)
}

func (tx *txStore) Update(_ context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	existing, ok := tx.lookup(task.ID)
	if !ok {
		return store.ErrTaskNotFound
	}
	updated := cloneTask(task)
	updated.Name = existing.Name
	updated.Prompt = existing.Prompt
	updated.CreatedAt = existing.CreatedAt
	updated.ParentTaskID = existing.ParentTaskID
	tx.writes[task.ID] = updated
	return nil
}

func (tx *txStore) List(_ context.Context, opts store.ListOptions) ([]*domain.Task, error) {
	opts = opts.Normalize()

	matched := filter(tx.all(), func(t *domain.Task) bool {
		return opts.ParentTaskID == nil || (t.ParentTaskID != nil && *t.ParentTaskID == *opts.ParentTaskID)
	})
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if opts.Offset >= len(matched) {
		return []*domain.Task{}, nil
	}
	matched = matched[opts.Offset:]
	return page(matched, opts.Limit), nil
}

func (tx *txStore) SelectDueScheduled(_ context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	matched := filter(tx.all(), func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusScheduled && t.ScheduledFor != nil && !t.ScheduledFor.After(now)
	})
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ScheduledFor.Before(*matched[j].ScheduledFor)
	})
	return page(matched, limit), nil
}

func (tx *txStore) SelectStaleQueued(_ context.Context, cutoff time.Time, limit int) ([]*domain.Task, error) {
	return tx.selectIdle(domain.TaskStatusQueued, cutoff, limit), nil
}

func (tx *txStore) SelectStuckRunning(_ context.Context, cutoff time.Time, limit int) ([]*domain.Task, error) {
	return tx.selectIdle(domain.TaskStatusRunning, cutoff, limit), nil
}

func (tx *txStore) selectIdle(status domain.TaskStatus, cutoff time.Time, limit int) []*domain.Task {
	matched := filter(tx.all(), func(t *domain.Task) bool {
		return t.Status == status && t.UpdatedAt.Before(cutoff)
	})
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
	})
	return page(matched, limit)
}

func filter(tasks []*domain.Task, keep func(*domain.Task) bool) []*domain.Task {
	out := make([]*domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// page clones at most limit tasks; a non-positive limit means no limit.
func page(tasks []*domain.Task, limit int) []*domain.Task {
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	out := make([]*domain.Task, len(tasks))
	for i, t := range tasks {
		out[i] = cloneTask(t)
	}
	return out
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.ScheduledFor = clonePtr(t.ScheduledFor)
	c.StartedAt = clonePtr(t.StartedAt)
	c.FinishedAt = clonePtr(t.FinishedAt)
	c.Output = clonePtr(t.Output)
	c.Error = clonePtr(t.Error)
	c.ParentTaskID = clonePtr(t.ParentTaskID)
	c.LLMProvider = clonePtr(t.LLMProvider)
	c.LLMModel = clonePtr(t.LLMModel)
	c.LatencyMS = clonePtr(t.LatencyMS)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
