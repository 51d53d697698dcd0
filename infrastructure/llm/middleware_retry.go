package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-behave/internal/application"
	"github.com/ahrav/go-behave/internal/domain"
)

// Backoff bounds used for retry policies derived from a RetryConfig.
const (
	DefaultRetryBaseDelay = 1 * time.Second
	DefaultRetryMaxDelay  = 60 * time.Second
)

// RetryPolicy controls RetryMiddleware.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Jitter enables randomized exponential backoff between attempts. When
	// false, attempts follow each other immediately.
	Jitter bool
	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps any single backoff.
	MaxDelay time.Duration
	// ShouldRetry decides whether a failed attempt is retried. Nil retries
	// every error.
	ShouldRetry func(error) bool
}

// RetryPolicyFromConfig maps a validated RetryConfig onto a RetryPolicy.
// An error is retried when its chain matches one of RetryIfErrorTypes.
func RetryPolicyFromConfig(cfg domain.RetryConfig) RetryPolicy {
	types := cfg.RetryIfErrorTypes
	return RetryPolicy{
		MaxAttempts: cfg.StopAfterAttempt,
		Jitter:      cfg.WaitExponentialJitter,
		BaseDelay:   DefaultRetryBaseDelay,
		MaxDelay:    DefaultRetryMaxDelay,
		ShouldRetry: func(err error) bool { return application.MatchesErrorTypes(err, types) },
	}
}

// retryLLM re-issues failed requests according to a RetryPolicy.
type retryLLM struct {
	next   CoreLLM
	policy RetryPolicy
}

// RetryMiddleware creates middleware that retries failed requests.
func RetryMiddleware(policy RetryPolicy) Middleware {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{next: next, policy: policy}
	}
}

// DoRequest executes the request, retrying until it succeeds, the policy
// declines the error, the attempts run out or ctx is done.
func (r *retryLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var lastErr error
	attempts := 0

	for attempt := range r.policy.MaxAttempts {
		attempts++
		response, tokensIn, tokensOut, err := r.next.DoRequest(ctx, prompt, opts)
		if err == nil {
			return response, tokensIn, tokensOut, nil
		}
		lastErr = err

		if ctx.Err() != nil || !r.shouldRetry(err) || attempt == r.policy.MaxAttempts-1 {
			break
		}

		if delay := r.delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", 0, 0, fmt.Errorf("retry interrupted after %d attempts: %w", attempts, lastErr)
			case <-timer.C:
			}
		}
	}

	if attempts == 1 {
		return "", 0, 0, lastErr
	}
	return "", 0, 0, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

func (r *retryLLM) shouldRetry(err error) bool {
	if r.policy.ShouldRetry == nil {
		return true
	}
	return r.policy.ShouldRetry(err)
}

// delay returns the backoff before attempt+1: base * 2^attempt with the
// upper half randomized, capped at MaxDelay.
func (r *retryLLM) delay(attempt int) time.Duration {
	if !r.policy.Jitter || r.policy.BaseDelay <= 0 {
		return 0
	}
	attempt = min(attempt, 30)
	d := r.policy.BaseDelay << uint(attempt) // #nosec G115 - attempt is bounded to [0, 30]
	if r.policy.MaxDelay > 0 && (d > r.policy.MaxDelay || d <= 0) {
		d = r.policy.MaxDelay
	}
	half := d / 2
	// #nosec G404 - weak RNG is fine for jitter
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

// GetModel returns the model name from the wrapped implementation.
func (r *retryLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *retryLLM) SetModel(m string) { r.next.SetModel(m) }
