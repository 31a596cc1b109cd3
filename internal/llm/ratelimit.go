package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Completer so parallel healing workers share one
// request budget against the provider.
type RateLimited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with the given burst.
// A non-positive rps disables limiting.
func NewRateLimited(next Completer, rps float64, burst int) *RateLimited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Complete waits for a token, then delegates
func (r *RateLimited) Complete(ctx context.Context, messages []Message) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.Complete(ctx, messages)
}

// Provider returns the wrapped provider
func (r *RateLimited) Provider() Provider {
	return r.next.Provider()
}

// Model returns the wrapped model
func (r *RateLimited) Model() string {
	return r.next.Model()
}
