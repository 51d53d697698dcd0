package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-behave/internal/domain"
	"github.com/ahrav/go-behave/internal/ports"
)

// Pool hands out one client per distinct configuration, so asserters built
// from identical settings share a connection pool and a rate-limiter budget.
// Concurrent first requests for the same key build the client once.
type Pool struct {
	mu       sync.Mutex
	clients  map[string]ports.LLMClient
	limiters map[domain.RateLimiterConfig]*RateLimiter
	group    singleflight.Group
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		clients:  make(map[string]ports.LLMClient),
		limiters: make(map[domain.RateLimiterConfig]*RateLimiter),
	}
}

// DefaultPool is shared by asserters that do not bring their own pool.
var DefaultPool = NewPool()

// Client returns the client cached under key, calling build on a miss.
// A failed build is not cached.
func (p *Pool) Client(key string, build func() (ports.LLMClient, error)) (ports.LLMClient, error) {
	p.mu.Lock()
	if c, ok := p.clients[key]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(key, func() (any, error) {
		p.mu.Lock()
		if c, ok := p.clients[key]; ok {
			p.mu.Unlock()
			return c, nil
		}
		p.mu.Unlock()

		c, err := build()
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.clients[key] = c
		p.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ports.LLMClient), nil
}

// RateLimiter returns the limiter shared by every client using cfg.
func (p *Pool) RateLimiter(cfg domain.RateLimiterConfig) *RateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rl, ok := p.limiters[cfg]; ok {
		return rl
	}
	rl := NewRateLimiter(cfg)
	p.limiters[cfg] = rl
	return rl
}

// Len reports the number of cached clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// ConfigKey derives a pool key from everything that shapes a client. The API
// key only contributes through the digest, so keys are safe to log.
func ConfigKey(cfg domain.LLMConfig, rl *domain.RateLimiterConfig, rc *domain.RetryConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%g|%d|%d|%g|%s",
		cfg.Provider, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.MaxRetries, cfg.Timeout, cfg.BaseURL)
	if rl != nil {
		fmt.Fprintf(&b, "|rl:%g:%g:%d", rl.RequestsPerSecond, rl.CheckEveryNSeconds, rl.MaxBucketSize)
	}
	if rc != nil {
		fmt.Fprintf(&b, "|retry:%t:%d", rc.WaitExponentialJitter, rc.StopAfterAttempt)
		for _, t := range rc.RetryIfErrorTypes {
			fmt.Fprintf(&b, ":%s", t)
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s/%s/%s", cfg.Provider, cfg.Model, hex.EncodeToString(sum[:8]))
}
