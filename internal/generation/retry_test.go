package generation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/llm-orchestrator/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallWithRetry(t *testing.T) {
	t.Parallel()

	policy := generation.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond}
	errFlaky := errors.New("503 unavailable")

	t.Run("recovers from transient errors", func(t *testing.T) {
		t.Parallel()
		calls := 0
		out, err := generation.CallWithRetry(context.Background(), policy, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errFlaky
			}
			return "done", nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "done", out)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		t.Parallel()
		calls := 0
		var notified int
		_, err := generation.CallWithRetry(context.Background(), policy, func(context.Context) (string, error) {
			calls++
			return "", errFlaky
		}, func(error, time.Duration) { notified++ })
		assert.ErrorIs(t, err, errFlaky)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, notified)
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		t.Parallel()
		calls := 0
		errBad := errors.New("400 bad request")
		_, err := generation.CallWithRetry(context.Background(), policy, func(context.Context) (string, error) {
			calls++
			return "", generation.Permanent(errBad)
		}, nil)
		assert.ErrorIs(t, err, errBad)
		assert.Equal(t, 1, calls)
	})
}
