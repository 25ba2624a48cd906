package generation

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Generator with a token bucket shared by every caller,
// so a worker pool cannot exceed the provider's request quota.
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewRateLimited limits next to rps requests per second with the given burst.
// A non-positive rps returns next unchanged.
func NewRateLimited(next Generator, rps float64, burst int) Generator {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Generate waits for a token, then delegates.
func (r *RateLimited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return r.next.Generate(ctx, prompt)
}

// Provider implements Generator.
func (r *RateLimited) Provider() string { return r.next.Provider() }

// Model implements Generator.
func (r *RateLimited) Model() string { return r.next.Model() }
