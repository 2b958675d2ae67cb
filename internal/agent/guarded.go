package agent

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/resilience"
)

// Guarded rate-limits calls to an Agent and trips a circuit breaker on
// provider failures. Schema errors do not count against the breaker.
type Guarded struct {
	inner   Agent
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps inner. A non-positive requestsPerMinute disables limiting.
func NewGuarded(inner Agent, requestsPerMinute int, breakerCfg resilience.CircuitBreakerConfig) *Guarded {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60)
	}
	breakerCfg.ShouldTrip = tripsBreaker
	return &Guarded{
		inner:   inner,
		limiter: rate.NewLimiter(limit, 1),
		breaker: resilience.NewCircuitBreaker(breakerCfg),
	}
}

// ExtractDocument implements DocumentAgent.
func (g *Guarded) ExtractDocument(ctx context.Context, data []byte, filename, mediaType string) (*Output, error) {
	return g.call(ctx, func(ctx context.Context) (*Output, error) {
		return g.inner.ExtractDocument(ctx, data, filename, mediaType)
	})
}

// ExtractText implements TextAgent.
func (g *Guarded) ExtractText(ctx context.Context, text, filename string) (*Output, error) {
	return g.call(ctx, func(ctx context.Context) (*Output, error) {
		return g.inner.ExtractText(ctx, text, filename)
	})
}

func (g *Guarded) call(ctx context.Context, fn func(context.Context) (*Output, error)) (*Output, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The limiter refuses waits that would outlast the deadline.
		return nil, fmt.Errorf("agent: %v: %w", err, context.DeadlineExceeded)
	}
	out, err := resilience.ExecuteVal(ctx, g.breaker, fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &ProviderError{Provider: "guard", Err: err}
	}
	return out, err
}

func tripsBreaker(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
