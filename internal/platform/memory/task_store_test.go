package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/platform/memory"
	"github.com/phrazzld/llm-orchestrator/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTask(t *testing.T, params domain.NewTaskParams, now time.Time) *domain.Task {
	t.Helper()
	if params.Name == "" {
		params.Name = "task"
	}
	if params.Prompt == "" {
		params.Prompt = "prompt"
	}
	task, err := domain.NewTask(params, now)
	require.NoError(t, err)
	return task
}

func TestTaskStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	s := memory.NewTaskStore(nil)
	ctx := context.Background()

	task := mustTask(t, domain.NewTaskParams{}, time.Now())
	require.NoError(t, s.Create(ctx, task))
	assert.ErrorIs(t, s.Create(ctx, task), store.ErrDuplicate)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)

	// Returned values are copies.
	got.Name = "mutated"
	again, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "task", again.Name)

	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_CreateRejectsInvalidAndOrphans(t *testing.T) {
	t.Parallel()
	s := memory.NewTaskStore(nil)

	err := s.Create(context.Background(), &domain.Task{ID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)

	missing := uuid.New()
	orphan := mustTask(t, domain.NewTaskParams{ParentTaskID: &missing}, time.Now())
	assert.ErrorIs(t, s.Create(context.Background(), orphan), store.ErrParentTaskNotFound)
}

func TestTaskStore_UpdateKeepsImmutableFields(t *testing.T) {
	t.Parallel()
	s := memory.NewTaskStore(nil)
	ctx := context.Background()

	task := mustTask(t, domain.NewTaskParams{}, time.Now())
	require.NoError(t, s.Create(ctx, task))

	task.Prompt = "rewritten"
	require.NoError(t, task.MarkRunning(time.Now()))
	require.NoError(t, s.Update(ctx, task))

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, got.Status)
	assert.Equal(t, "prompt", got.Prompt)

	assert.ErrorIs(t, s.Update(ctx, mustTask(t, domain.NewTaskParams{}, time.Now())), store.ErrTaskNotFound)
}

func TestTaskStore_InTxRollsBack(t *testing.T) {
	t.Parallel()
	s := memory.NewTaskStore(nil)
	ctx := context.Background()

	task := mustTask(t, domain.NewTaskParams{}, time.Now())
	require.NoError(t, s.Create(ctx, task))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
		locked, err := tx.GetForUpdate(ctx, task.ID)
		require.NoError(t, err)
		require.True(t, locked.Cancel(time.Now()))
		require.NoError(t, tx.Update(ctx, locked))

		seen, err := tx.GetByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCancelled, seen.Status, "reads see staged writes")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
}

func TestTaskStore_SelectDueScheduled(t *testing.T) {
	t.Parallel()
	s := memory.NewTaskStore(nil)
	ctx := context.Background()

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 3; i >= 1; i-- {
		at := created.Add(time.Duration(i) * time.Hour)
		task := mustTask(t, domain.NewTaskParams{ScheduledFor: &at}, created)
		require.NoError(t, s.Create(ctx, task))
		ids = append(ids, task.ID)
	}
	later := created.Add(10 * time.Hour)
	notDue := mustTask(t, domain.NewTaskParams{ScheduledFor: &later}, created)
	require.NoError(t, s.Create(ctx, notDue))
	require.NoError(t, s.Create(ctx, mustTask(t, domain.NewTaskParams{}, created)))

	due, err := s.SelectDueScheduled(ctx, created.Add(3*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, ids[2], due[0].ID, "oldest due first")
	assert.Equal(t, ids[1], due[1].ID)
}

func TestTaskStore_ListOrderingAndFilter(t *testing.T) {
	t.Parallel()
	s := memory.NewTaskStore(nil)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	parent := mustTask(t, domain.NewTaskParams{}, base)
	require.NoError(t, s.Create(ctx, parent))
	var children []uuid.UUID
	for i := 1; i <= 3; i++ {
		child := mustTask(t, domain.NewTaskParams{ParentTaskID: &parent.ID}, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Create(ctx, child))
		children = append(children, child.ID)
	}

	all, err := s.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, children[2], all[0].ID, "newest first")

	page, err := s.List(ctx, store.ListOptions{ParentTaskID: &parent.ID, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, children[1], page[0].ID)

	empty, err := s.List(ctx, store.ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTaskStore_SelectIdle(t *testing.T) {
	t.Parallel()
	s := memory.NewTaskStore(nil)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	queued := mustTask(t, domain.NewTaskParams{}, old)
	require.NoError(t, s.Create(ctx, queued))
	running := mustTask(t, domain.NewTaskParams{}, old)
	require.NoError(t, running.MarkRunning(old))
	require.NoError(t, s.Create(ctx, running))
	require.NoError(t, s.Create(ctx, mustTask(t, domain.NewTaskParams{}, time.Now())))

	stale, err := s.SelectStaleQueued(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, queued.ID, stale[0].ID)

	stuck, err := s.SelectStuckRunning(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, running.ID, stuck[0].ID)
}

func TestTaskStore_ConcurrentTransactionsSerialize(t *testing.T) {
	t.Parallel()
	s := memory.NewTaskStore(nil)
	ctx := context.Background()

	task := mustTask(t, domain.NewTaskParams{}, time.Now())
	require.NoError(t, s.Create(ctx, task))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InTx(ctx, func(ctx context.Context, tx store.TaskStore) error {
				current, err := tx.GetForUpdate(ctx, task.ID)
				if err != nil {
					return err
				}
				if current.Status != domain.TaskStatusQueued {
					return nil
				}
				if err := current.MarkRunning(time.Now()); err != nil {
					return err
				}
				mu.Lock()
				claims++
				mu.Unlock()
				return tx.Update(ctx, current)
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claims)
	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}
