package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-behave/internal/domain"
)

// RateLimiter is a token bucket shared by every client built from the same
// configuration. Callers poll the bucket every check interval until a token
// is free; a zero interval blocks on the limiter's own reservation instead.
type RateLimiter struct {
	limiter    *rate.Limiter
	checkEvery time.Duration
}

// NewRateLimiter builds a limiter refilling at RequestsPerSecond with a
// bucket of MaxBucketSize tokens. A bucket size of zero still admits one
// request at a time.
func NewRateLimiter(cfg domain.RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.MaxBucketSize, 1)),
		checkEvery: cfg.CheckInterval(),
	}
}

// Limiter exposes the underlying token bucket.
func (r *RateLimiter) Limiter() *rate.Limiter { return r.limiter }

// Acquire blocks until a token is available or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r.checkEvery <= 0 {
		return r.limiter.Wait(ctx)
	}

	ticker := time.NewTicker(r.checkEvery)
	defer ticker.Stop()
	for {
		if r.limiter.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// rateLimitedLLM gates every request on a shared RateLimiter.
type rateLimitedLLM struct {
	next    CoreLLM
	limiter *RateLimiter
}

// RateLimitMiddleware creates middleware that takes a token from limiter
// before each request. Clients sharing a limiter share its budget.
func RateLimitMiddleware(limiter *RateLimiter) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{next: next, limiter: limiter}
	}
}

// DoRequest waits for a token before forwarding the request.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if err := r.limiter.Acquire(ctx); err != nil {
		return "", 0, 0, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.DoRequest(ctx, prompt, opts)
}

// GetModel returns the model name from the wrapped implementation.
func (r *rateLimitedLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *rateLimitedLLM) SetModel(m string) { r.next.SetModel(m) }
