package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/llm-orchestrator/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueDequeue(t *testing.T) {
	t.Parallel()
	q := dispatch.NewQueue(2, nil)
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))
	assert.Equal(t, 2, q.Len())

	err := q.Enqueue(ctx, uuid.New())
	assert.ErrorIs(t, err, dispatch.ErrQueueFull)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestQueue_DequeueHonoursContext(t *testing.T) {
	t.Parallel()
	q := dispatch.NewQueue(1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Close(t *testing.T) {
	t.Parallel()
	q := dispatch.NewQueue(4, nil)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, q.Enqueue(ctx, id))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, uuid.New()), dispatch.ErrQueueClosed)

	// Buffered IDs drain before the closed error.
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, dispatch.ErrQueueClosed)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	t.Parallel()
	const n = 50
	q := dispatch.NewQueue(n, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Enqueue(ctx, uuid.New()))
		}()
	}
	wg.Wait()

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < n; i++ {
		id, err := q.Dequeue(ctx)
		require.NoError(t, err)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
