package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/llm-orchestrator/internal/generation"
)

// Generator implements generation.Generator for testing.
type Generator struct {
	// GenerateFn allows test cases to override Generate.
	GenerateFn func(ctx context.Context, prompt string) (string, error)

	// Default response values, used when GenerateFn is nil.
	Output string
	Err    error

	ProviderName string
	ModelName    string

	mu      sync.Mutex
	prompts []string
}

var _ generation.Generator = (*Generator)(nil)

// NewGeneratorWithOutput creates a Generator that always returns output.
func NewGeneratorWithOutput(output string) *Generator {
	return &Generator{Output: output}
}

// NewGeneratorWithError creates a Generator that always fails with err.
func NewGeneratorWithError(err error) *Generator {
	return &Generator{Err: err}
}

// Generate implements generation.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.GenerateFn != nil {
		return g.GenerateFn(ctx, prompt)
	}
	return g.Output, g.Err
}

// Provider implements generation.Generator.
func (g *Generator) Provider() string {
	if g.ProviderName == "" {
		return "fake"
	}
	return g.ProviderName
}

// Model implements generation.Generator.
func (g *Generator) Model() string {
	if g.ModelName == "" {
		return "fake-model"
	}
	return g.ModelName
}

// Calls returns how many times Generate was called.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// Prompts returns the prompts passed to Generate, in call order.
func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}
