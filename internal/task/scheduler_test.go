package task_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/domain"
	"github.com/phrazzld/llm-orchestrator/internal/mocks"
	"github.com/phrazzld/llm-orchestrator/internal/platform/memory"
	"github.com/phrazzld/llm-orchestrator/internal/store"
	"github.com/phrazzld/llm-orchestrator/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDue stores a scheduled task whose due time has passed.
func seedDue(t *testing.T, h *harness, dueAgo time.Duration) *domain.Task {
	t.Helper()
	due := time.Now().UTC().Add(-dueAgo)
	return h.seed(t, func(tk *domain.Task) {
		tk.Status = domain.TaskStatusScheduled
		tk.ScheduledFor = &due
	})
}

func TestScheduler_TickClaimsDueTasks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	older := seedDue(t, h, time.Hour)
	newer := seedDue(t, h, time.Minute)
	future := time.Now().Add(time.Hour)
	notDue := h.create(t, task.CreateParams{ScheduledFor: &future})

	n, err := h.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []uuid.UUID{older.ID, newer.ID}, h.dispatcher.Enqueued())
	assert.Equal(t, domain.TaskStatusQueued, h.get(t, older.ID).Status)
	assert.Equal(t, domain.TaskStatusQueued, h.get(t, newer.ID).Status)
	assert.Equal(t, domain.TaskStatusScheduled, h.get(t, notDue.ID).Status)

	// Nothing left to claim.
	n, err = h.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_TickRespectsBatchSize(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	for i := 0; i < 5; i++ {
		seedDue(t, h, time.Duration(i+1)*time.Minute)
	}

	s := task.NewScheduler(h.store, h.dispatcher, task.SchedulerConfig{BatchSize: 2})
	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestScheduler_ConcurrentTicksClaimOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	due := seedDue(t, h, time.Minute)

	second := task.NewScheduler(h.store, h.dispatcher, task.DefaultSchedulerConfig())

	var (
		wg    sync.WaitGroup
		total atomic.Int64
	)
	for _, s := range []*task.Scheduler{h.scheduler, second, h.scheduler, second} {
		wg.Add(1)
		go func(s *task.Scheduler) {
			defer wg.Done()
			n, err := s.Tick(context.Background())
			assert.NoError(t, err)
			total.Add(int64(n))
		}(s)
	}
	wg.Wait()

	assert.EqualValues(t, 1, total.Load())
	assert.Equal(t, 1, h.dispatcher.Count(due.ID))
}

func TestScheduler_DispatchFailureKeepsClaim(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	due := seedDue(t, h, time.Minute)
	h.dispatcher.EnqueueFn = func(context.Context, uuid.UUID) error { return errors.New("queue full") }

	n, err := h.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.TaskStatusQueued, h.get(t, due.ID).Status)
	assert.Contains(t, h.logs.String(), "failed to dispatch claimed task")
}

// flakyStore fails the first failures transactions.
type flakyStore struct {
	*memory.TaskStore
	failures atomic.Int64
	calls    atomic.Int64
}

func (f *flakyStore) InTx(ctx context.Context, fn func(ctx context.Context, tasks store.TaskStore) error) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return store.ErrTransactionFailed
	}
	return f.TaskStore.InTx(ctx, fn)
}

func TestScheduler_RunBacksOffAndRecovers(t *testing.T) {
	t.Parallel()
	fs := &flakyStore{TaskStore: memory.NewTaskStore(nil)}
	fs.failures.Store(2)

	due := time.Now().UTC().Add(-time.Minute)
	seeded, err := domain.NewTask(domain.NewTaskParams{Name: "n", Prompt: "p"}, time.Now())
	require.NoError(t, err)
	seeded.Status = domain.TaskStatusScheduled
	seeded.ScheduledFor = &due
	require.NoError(t, fs.Create(context.Background(), seeded))

	d := &mocks.Dispatcher{}
	s := task.NewScheduler(fs, d, task.SchedulerConfig{
		PollInterval: 5 * time.Millisecond,
		BackoffMin:   time.Millisecond,
		BackoffMax:   4 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Count(seeded.ID) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, fs.calls.Load(), int64(3))
}
