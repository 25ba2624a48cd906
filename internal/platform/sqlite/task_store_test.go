package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/platform/sqlite"
	"github.com/phrazzld/llm-orchestrator/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.TaskStore {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlite.NewTaskStore(db, nil)
}

func newTask(t *testing.T, params domain.NewTaskParams, now time.Time) *domain.Task {
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

func TestTaskStore_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	parent := newTask(t, domain.NewTaskParams{}, now)
	require.NoError(t, s.Create(ctx, parent))

	child := newTask(t, domain.NewTaskParams{ParentTaskID: &parent.ID}, now)
	require.NoError(t, s.Create(ctx, child))

	require.NoError(t, child.MarkRunning(now))
	require.NoError(t, child.MarkCompleted("out", "mock", "mock-llm", 1500*time.Millisecond, now))
	require.NoError(t, s.Update(ctx, child))

	got, err := s.GetByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.ParentTaskID)
	assert.Equal(t, parent.ID, *got.ParentTaskID)
	require.NotNil(t, got.Output)
	assert.Equal(t, "out", *got.Output)
	require.NotNil(t, got.LatencyMS)
	assert.EqualValues(t, 1500, *got.LatencyMS)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, now.Equal(*got.FinishedAt))
	assert.Nil(t, got.ScheduledFor)

	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_CreateRejectsMissingParent(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	missing := uuid.New()
	orphan := newTask(t, domain.NewTaskParams{ParentTaskID: &missing}, time.Now())
	assert.ErrorIs(t, s.Create(context.Background(), orphan), store.ErrParentTaskNotFound)
}

func TestTaskStore_UpdateMissingTask(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	task := newTask(t, domain.NewTaskParams{}, time.Now())
	assert.ErrorIs(t, s.Update(context.Background(), task), store.ErrTaskNotFound)
}

func TestTaskStore_SelectDueScheduled(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	late := now.Add(-time.Minute)
	early := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	for _, at := range []time.Time{late, early, future} {
		at := at
		// Created in the past so every task starts out scheduled.
		require.NoError(t, s.Create(ctx, newTask(t, domain.NewTaskParams{ScheduledFor: &at}, now.Add(-2*time.Hour))))
	}

	due, err := s.SelectDueScheduled(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.True(t, early.Equal(*due[0].ScheduledFor))
	assert.True(t, late.Equal(*due[1].ScheduledFor))

	limited, err := s.SelectDueScheduled(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTaskStore_InTxRollsBack(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	task := newTask(t, domain.NewTaskParams{}, time.Now())
	require.NoError(t, s.Create(ctx, task))

	err := s.InTx(ctx, func(ctx context.Context, tasks store.TaskStore) error {
		locked, err := tasks.GetForUpdate(ctx, task.ID)
		require.NoError(t, err)
		require.NoError(t, locked.MarkRunning(time.Now()))
		require.NoError(t, tasks.Update(ctx, locked))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestTaskStore_ListByParent(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	parent := newTask(t, domain.NewTaskParams{}, base)
	require.NoError(t, s.Create(ctx, parent))
	for i := 1; i <= 3; i++ {
		child := newTask(t, domain.NewTaskParams{ParentTaskID: &parent.ID}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.Create(ctx, child))
	}

	children, err := s.List(ctx, store.ListOptions{ParentTaskID: &parent.ID})
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.True(t, children[0].CreatedAt.After(children[2].CreatedAt))

	all, err := s.List(ctx, store.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTaskStore_ConcurrentClaimsSerialize(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	task := newTask(t, domain.NewTaskParams{}, time.Now())
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
			_ = s.InTx(ctx, func(ctx context.Context, tasks store.TaskStore) error {
				locked, err := tasks.GetForUpdate(ctx, task.ID)
				if err != nil || locked.Status != domain.TaskStatusQueued {
					return err
				}
				if err := locked.MarkRunning(time.Now()); err != nil {
					return err
				}
				if err := tasks.Update(ctx, locked); err != nil {
					return err
				}
				mu.Lock()
				claims++
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claims)
}
