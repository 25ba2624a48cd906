// Package redis implements dispatch.Dispatcher and dispatch.Consumer on a
// Redis list using github.com/redis/go-redis/v9.
//
// Producers LPUSH task IDs and workers BRPOP them, so the list behaves as a
// FIFO shared by every process. An ID popped by a worker that then crashes is
// lost from the list; the reconciler re-dispatches the task.
//
// Usage:
//
//	client, err := redis.NewClient(cfg.Queue.RedisURL)
//	queue := redis.NewQueue(client, "tasks", redis.WithLogger(logger))
package redis
