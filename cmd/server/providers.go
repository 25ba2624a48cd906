package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/llm-orchestrator/internal/config"
	"github.com/phrazzld/llm-orchestrator/internal/dispatch"
	"github.com/phrazzld/llm-orchestrator/internal/generation"
	"github.com/phrazzld/llm-orchestrator/internal/platform/gemini"
	"github.com/phrazzld/llm-orchestrator/internal/platform/openai"
	"github.com/phrazzld/llm-orchestrator/internal/platform/redis"
)

// newGenerator builds the provider named by llm.provider and applies the
// configured rate limit.
func newGenerator(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (generation.Generator, error) {
	log = log.With(slog.String("component", "llm_generator"))
	retry := generation.RetryPolicy{MaxRetries: cfg.MaxRetries, InitialDelay: cfg.RetryDelay}

	var (
		gen generation.Generator
		err error
	)
	switch cfg.Provider {
	case "mock":
		gen, err = generation.NewMockGenerator(
			generation.WithMockLatency(cfg.MockLatency),
			generation.WithMockFailureRate(cfg.MockFailureRate))
	case "gemini":
		gen, err = gemini.NewGenerator(ctx, log, gemini.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Retry:  retry,
		})
	case "openai":
		gen, err = openai.NewGenerator(log, openai.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Retry:  retry,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s generator: %w", cfg.Provider, err)
	}

	log.Info("LLM generator initialized",
		slog.String("provider", gen.Provider()),
		slog.String("model", gen.Model()),
		slog.Float64("requests_per_second", cfg.RequestsPerSecond))
	return generation.NewRateLimited(gen, cfg.RequestsPerSecond, cfg.Burst), nil
}

// openQueue builds the dispatch transport named by queue.driver.
func openQueue(ctx context.Context, cfg config.QueueConfig, log *slog.Logger) (dispatch.Dispatcher, dispatch.Consumer, func() error, error) {
	switch cfg.Driver {
	case "redis":
		client, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to configure redis client: %w", err)
		}
		q := redis.NewQueue(client, cfg.Name,
			redis.WithLogger(log),
			redis.WithPollTimeout(cfg.PollTimeout))
		if err := q.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		log.Info("redis dispatch queue ready", slog.String("queue", cfg.Name))
		return q, q, client.Close, nil

	case "memory":
		q := dispatch.NewQueue(cfg.BufferSize, log)
		return q, q, q.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}
