package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/llm-orchestrator/internal/generation"
	"github.com/phrazzld/llm-orchestrator/internal/platform/logger"
	"google.golang.org/genai"
)

// ProviderName is reported as the task's llm_provider.
const ProviderName = "gemini"

// ErrContentBlocked is returned when Gemini refuses the prompt on safety grounds.
var ErrContentBlocked = errors.New("content blocked by safety filters")

// Config holds the settings the generator needs.
type Config struct {
	APIKey string
	Model  string
	Retry  generation.RetryPolicy
}

// modelsAPI is the slice of *genai.Models the generator uses.
type modelsAPI interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Generator implements generation.Generator using Gemini.
type Generator struct {
	models modelsAPI
	model  string
	retry  generation.RetryPolicy
	logger *slog.Logger
}

var _ generation.Generator = (*Generator)(nil)

// NewGenerator validates cfg and creates a Gemini client.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: gemini model cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newGenerator(client.Models, logger, cfg), nil
}

func newGenerator(models modelsAPI, logger *slog.Logger, cfg Config) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		models: models,
		model:  cfg.Model,
		retry:  cfg.Retry,
		logger: logger.With(slog.String("component", "gemini_generator")),
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
		log.WarnContext(ctx, "gemini call failed, retrying",
			slog.String("model", g.model),
			slog.String("error", err.Error()),
			slog.Duration("delay", next))
	})
}

func (g *Generator) generateOnce(ctx context.Context, prompt string) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		if ctx.Err() != nil || !isTransient(err) {
			return "", generation.Permanent(fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err))
		}
		return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", generation.Permanent(fmt.Errorf("%w: no candidates returned", generation.ErrGenerationFailed))
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", generation.Permanent(ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", generation.Permanent(generation.ErrEmptyResponse)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", generation.Permanent(generation.ErrEmptyResponse)
	}
	return text.String(), nil
}

// isTransient reports whether err is a rate limit or server-side failure.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	// Transport errors carry no status code.
	return true
}
