package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/llm-orchestrator/internal/dispatch"
)

// DefaultPollTimeout bounds each BRPOP so Dequeue notices ctx cancellation.
const DefaultPollTimeout = 2 * time.Second

const keyPrefix = "orch:queue:"

// Compile-time interface checks.
var (
	_ dispatch.Dispatcher = (*Queue)(nil)
	_ dispatch.Consumer   = (*Queue)(nil)
)

// Option configures the Queue.
type Option func(*Queue)

// WithLogger sets a custom logger. A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithPollTimeout sets the BRPOP timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollTimeout = d
		}
	}
}

// Queue is a Redis-list dispatch channel.
type Queue struct {
	client      goredis.Cmdable
	key         string
	pollTimeout time.Duration
	logger      *slog.Logger
}

// NewClient parses a redis:// URL into a client. The caller owns its lifecycle.
func NewClient(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return goredis.NewClient(opts), nil
}

// NewQueue creates a queue stored under the list named name.
func NewQueue(client goredis.Cmdable, name string, opts ...Option) *Queue {
	q := &Queue{
		client:      client,
		key:         keyPrefix + name,
		pollTimeout: DefaultPollTimeout,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(q)
	}
	q.logger = q.logger.With(slog.String("component", "redis_queue"), slog.String("key", q.key))
	return q
}

// Ping verifies the Redis connection is alive.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue implements dispatch.Dispatcher.
func (q *Queue) Enqueue(ctx context.Context, id uuid.UUID) error {
	if err := q.client.LPush(ctx, q.key, id.String()).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", q.key, err)
	}
	q.logger.DebugContext(ctx, "task dispatched", slog.String("task_id", id.String()))
	return nil
}

// Dequeue implements dispatch.Consumer. Malformed entries are logged and skipped.
func (q *Queue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		if err := ctx.Err(); err != nil {
			return uuid.Nil, err
		}

		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return uuid.Nil, ctxErr
			}
			return uuid.Nil, fmt.Errorf("redis brpop %s: %w", q.key, err)
		}

		// BRPOP returns [key, value].
		if len(res) != 2 {
			continue
		}
		id, err := uuid.Parse(res[1])
		if err != nil {
			q.logger.WarnContext(ctx, "discarding malformed queue entry",
				slog.String("value", res[1]),
				slog.String("error", err.Error()))
			continue
		}
		return id, nil
	}
}

// Len returns the number of pending IDs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
