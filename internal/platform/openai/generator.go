package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/phrazzld/llm-orchestrator/internal/generation"
	"github.com/phrazzld/llm-orchestrator/internal/platform/logger"
)

// ProviderName is reported as the task's llm_provider.
const ProviderName = "openai"

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Config holds the settings the generator needs.
type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; empty means the public API.
	BaseURL string
	Retry   generation.RetryPolicy
}

type completionsAPI interface {
	New(
		ctx context.Context,
		body openai.ChatCompletionNewParams,
		opts ...option.RequestOption,
	) (*openai.ChatCompletion, error)
}

// Generator implements generation.Generator using OpenAI chat completions.
type Generator struct {
	completions completionsAPI
	model       string
	retry       generation.RetryPolicy
	logger      *slog.Logger
}

var _ generation.Generator = (*Generator)(nil)

// NewGenerator validates cfg and creates an OpenAI client. The client's own
// retries are disabled; retrying is governed by cfg.Retry.
func NewGenerator(logger *slog.Logger, cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return newGenerator(&client.Chat.Completions, logger, cfg), nil
}

func newGenerator(completions completionsAPI, logger *slog.Logger, cfg Config) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		completions: completions,
		model:       cfg.Model,
		retry:       cfg.Retry,
		logger:      logger.With(slog.String("component", "openai_generator")),
	}
}

// Provider implements generation.Generator.
func (g *Generator) Provider() string { return ProviderName }

// Model implements generation.Generator.
func (g *Generator) Model() string { return g.model }

// Generate implements generation.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	log := logger.FromContextOrDefault(ctx, g.logger)

	call := func(ctx context.Context) (string, error) {
		return g.generateOnce(ctx, prompt)
	}
	return generation.CallWithRetry(ctx, g.retry, call, func(err error, next time.Duration) {
		log.WarnContext(ctx, "openai call failed, retrying",
			slog.String("model", g.model),
			slog.String("error", err.Error()),
			slog.Duration("delay", next))
	})
}

func (g *Generator) generateOnce(ctx context.Context, prompt string) (string, error) {
	resp, err := g.completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(g.model),
	})
	if err != nil {
		if ctx.Err() != nil || !isTransient(err) {
			return "", generation.Permanent(fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err))
		}
		return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		return "", generation.Permanent(fmt.Errorf("%w: no choices returned", generation.ErrGenerationFailed))
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", generation.Permanent(generation.ErrEmptyResponse)
	}
	return content, nil
}

// isTransient reports whether err is a rate limit or server-side failure.
func isTransient(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
