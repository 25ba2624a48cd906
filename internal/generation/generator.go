package generation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Generator turns a prompt into text.
//
// Implementations must honour ctx cancellation and be safe for concurrent use.
type Generator interface {
	// Generate returns the model's text for prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// Provider names the backend, e.g. "gemini".
	Provider() string

	// Model names the model used by Generate.
	Model() string
}

// Result is the outcome of one generation attempt.
type Result struct {
	Output   string
	Provider string
	Model    string
	Latency  time.Duration
	Err      error
}

// OK reports whether the attempt produced output.
func (r Result) OK() bool {
	return r.Err == nil
}

// Run executes g once. It never panics: a panicking generator, an error and an
// empty output all come back as a Result carrying an *ExecutionError.
func Run(ctx context.Context, g Generator, prompt string) (res Result) {
	res.Provider = g.Provider()
	res.Model = g.Model()

	start := time.Now()
	defer func() {
		res.Latency = time.Since(start)
		if r := recover(); r != nil {
			res.Output = ""
			res.Err = &ExecutionError{
				Provider: res.Provider,
				Err:      fmt.Errorf("%w: generator panic: %v", ErrGenerationFailed, r),
			}
		}
	}()

	output, err := g.Generate(ctx, prompt)
	switch {
	case err != nil:
		res.Err = &ExecutionError{Provider: res.Provider, Err: err}
	case strings.TrimSpace(output) == "":
		res.Err = &ExecutionError{Provider: res.Provider, Err: ErrEmptyResponse}
	default:
		res.Output = output
	}
	return res
}
