package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/llm-orchestrator/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	mu        sync.Mutex
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     int
	lastModel string
	lastText  string
}

func (f *fakeModels) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	_ *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	f.lastModel = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.lastText = contents[0].Parts[0].Text
	}

	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp *genai.GenerateContentResponse
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content, FinishReason: genai.FinishReasonStop}},
	}
}

func newTestGenerator(models modelsAPI) *Generator {
	return newGenerator(models, nil, Config{
		Model: "gemini-test",
		Retry: generation.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond},
	})
}

func TestNewGenerator_ValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewGenerator(context.Background(), nil, Config{Model: "m"})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = NewGenerator(context.Background(), nil, Config{APIKey: "k"})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()

	t.Run("joins text parts", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse("Hello, ", "world")}}
		g := newTestGenerator(models)

		out, err := g.Generate(context.Background(), "say hi")
		require.NoError(t, err)
		assert.Equal(t, "Hello, world", out)
		assert.Equal(t, "gemini-test", models.lastModel)
		assert.Equal(t, "say hi", models.lastText)
		assert.Equal(t, "gemini", g.Provider())
		assert.Equal(t, "gemini-test", g.Model())
	})

	t.Run("retries rate limits", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{
			errs:      []error{genai.APIError{Code: http.StatusTooManyRequests, Message: "slow down"}},
			responses: []*genai.GenerateContentResponse{nil, textResponse("ok")},
		}
		out, err := newTestGenerator(models).Generate(context.Background(), "p")
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, 2, models.calls)
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{errs: []error{genai.APIError{Code: http.StatusBadRequest, Message: "bad"}}}
		_, err := newTestGenerator(models).Generate(context.Background(), "p")
		assert.ErrorIs(t, err, generation.ErrGenerationFailed)
		assert.Equal(t, 1, models.calls)
	})

	t.Run("gives up on persistent outage", func(t *testing.T) {
		t.Parallel()
		outage := errors.New("connection reset")
		models := &fakeModels{errs: []error{outage, outage, outage}}
		_, err := newTestGenerator(models).Generate(context.Background(), "p")
		assert.ErrorIs(t, err, generation.ErrTransientFailure)
		assert.Equal(t, 3, models.calls)
	})

	t.Run("safety block", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{responses: []*genai.GenerateContentResponse{{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}}}
		_, err := newTestGenerator(models).Generate(context.Background(), "p")
		assert.ErrorIs(t, err, ErrContentBlocked)
	})

	t.Run("empty candidates", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{responses: []*genai.GenerateContentResponse{{}}}
		_, err := newTestGenerator(models).Generate(context.Background(), "p")
		assert.ErrorIs(t, err, generation.ErrGenerationFailed)
	})

	t.Run("blank text", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse(" ")}}
		_, err := newTestGenerator(models).Generate(context.Background(), "p")
		assert.ErrorIs(t, err, generation.ErrEmptyResponse)
	})
}
