package generation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	// MockProvider is the provider name reported by MockGenerator.
	MockProvider = "mock"

	// MockModel is the model name reported by MockGenerator.
	MockModel = "mock-llm"

	// DefaultMockLatency is the simulated provider latency.
	DefaultMockLatency = time.Second

	// DefaultMockFailureRate is the fraction of calls that fail transiently.
	DefaultMockFailureRate = 0.03
)

// ErrMockTransient is the simulated provider failure.
var ErrMockTransient = errors.New("mock llm transient error")

// MockGenerator simulates an LLM with fixed latency and a random transient
// failure rate. It echoes the prompt in a recognizable envelope.
type MockGenerator struct {
	latency     time.Duration
	failureRate float64
	roll        func() float64
}

// MockOption configures a MockGenerator.
type MockOption func(*MockGenerator)

// WithMockLatency sets the simulated latency. Zero disables the delay.
func WithMockLatency(d time.Duration) MockOption {
	return func(m *MockGenerator) { m.latency = d }
}

// WithMockFailureRate sets the probability in [0,1] that a call fails.
func WithMockFailureRate(rate float64) MockOption {
	return func(m *MockGenerator) { m.failureRate = rate }
}

// WithMockRoll replaces the random source; used to make failures deterministic.
func WithMockRoll(roll func() float64) MockOption {
	return func(m *MockGenerator) { m.roll = roll }
}

// NewMockGenerator returns a MockGenerator with default latency and failure rate.
func NewMockGenerator(opts ...MockOption) (*MockGenerator, error) {
	m := &MockGenerator{
		latency:     DefaultMockLatency,
		failureRate: DefaultMockFailureRate,
		roll:        rand.Float64,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.latency < 0 {
		return nil, fmt.Errorf("%w: latency cannot be negative", ErrInvalidConfig)
	}
	if m.failureRate < 0 || m.failureRate > 1 {
		return nil, fmt.Errorf("%w: failure rate must be between 0 and 1", ErrInvalidConfig)
	}
	return m, nil
}

var _ Generator = (*MockGenerator)(nil)

// Generate implements Generator.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	if m.roll() < m.failureRate {
		return "", ErrMockTransient
	}

	return fmt.Sprintf("[MOCK OUTPUT]\n\nPrompt:\n%s\n\nResponse:\nThis is a mocked response.", prompt), nil
}

// Provider implements Generator.
func (m *MockGenerator) Provider() string { return MockProvider }

// Model implements Generator.
func (m *MockGenerator) Model() string { return MockModel }
