// Package llm builds the chat clients that behavioral assertions are judged
// by.
//
// Providers (OpenAI, Anthropic, or any langchaingo model) implement the small
// CoreLLM interface. Cross-cutting behavior is layered on top through a
// Middleware chain: the token-bucket rate limiter, the retry policy, request
// timeouts, metrics and tracing. Client adapts the resulting chain to
// ports.LLMClient, turning a system/human message pair into a provider
// request.
//
// Basic usage:
//
//	client, err := llm.NewClient(domain.ProviderOpenAI, llm.FromLLMConfig(cfg))
//	reply, err := client.Invoke(ctx, []ports.Message{
//	    {Role: ports.RoleSystem, Content: "You are a strict judge."},
//	    {Role: ports.RoleHuman, Content: "..."},
//	})
//
// With middleware:
//
//	config := llm.FromLLMConfig(cfg)
//	config.Middleware = []llm.Middleware{
//	    llm.TracingMiddleware(tracer, "openai"),
//	    llm.MetricsMiddleware(collector, "openai"),
//	    llm.RetryMiddleware(policy),
//	    llm.RateLimitMiddleware(limiter),
//	}
//	client, err := llm.NewClient(domain.ProviderOpenAI, config)
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-behave/internal/domain"
	"github.com/ahrav/go-behave/internal/ports"
)

// CoreLLM defines the minimal interface that LLM providers must implement.
// The middleware chain wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt to the provider and returns the response text
	// with the input and output token counts. The opts map carries the
	// request parameters understood by ParseRequestOptions.
	DoRequest(
		ctx context.Context,
		prompt string,
		opts map[string]any,
	) (
		response string,
		tokensIn, tokensOut int,
		err error,
	)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model to use for subsequent requests.
	SetModel(model string)
}

// ClientConfig holds everything a provider factory needs to build a client.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model specifies which model to use for requests.
	Model string

	// BaseURL overrides the provider's default endpoint. Empty uses the
	// default.
	BaseURL string

	// Timeout bounds each HTTP request made by the provider SDK. Zero means
	// no client-side timeout.
	Timeout time.Duration

	// MaxRetries is the number of transport-level retries performed by the
	// provider for transient failures.
	MaxRetries int

	// Temperature is sent with every request unless overridden per call.
	Temperature *float64

	// MaxTokens caps the reply length unless overridden per call.
	MaxTokens int

	// Middleware is applied in order, the first entry being the outermost.
	Middleware []Middleware
}

// FromLLMConfig converts a validated configuration into a ClientConfig.
func FromLLMConfig(cfg domain.LLMConfig) ClientConfig {
	temperature := cfg.Temperature
	return ClientConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.TimeoutDuration(),
		MaxRetries:  cfg.MaxRetries,
		Temperature: &temperature,
		MaxTokens:   cfg.MaxTokens,
	}
}

// Middleware wraps a CoreLLM implementation to add cross-cutting behavior
// without touching provider code.
type Middleware func(CoreLLM) CoreLLM

// Chain applies middleware around core so that mws[0] is the outermost layer.
func Chain(core CoreLLM, mws ...Middleware) CoreLLM {
	for i := len(mws) - 1; i >= 0; i-- {
		core = mws[i](core)
	}
	return core
}

var _ ports.LLMClient = (*Client)(nil)

// Client implements ports.LLMClient on top of a middleware-wrapped CoreLLM.
type Client struct {
	core     CoreLLM
	provider string
}

// NewClient creates a client for the given provider. The middleware chain is
// assembled around the provider before the client is returned.
func NewClient(provider domain.Provider, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := providerFactory(provider.String())
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return &Client{core: Chain(core, config.Middleware...), provider: provider.String()}, nil
}

// NewClientWithCore wraps an already constructed CoreLLM, such as a
// langchaingo adapter or a test double, in the given middleware.
func NewClientWithCore(provider string, core CoreLLM, mws ...Middleware) *Client {
	return &Client{core: Chain(core, mws...), provider: provider}
}

// Invoke sends the messages and returns the reply text. System messages
// become the provider's system prompt and human messages the user prompt.
func (c *Client) Invoke(ctx context.Context, messages []ports.Message) (string, error) {
	reply, _, _, err := c.InvokeWithUsage(ctx, messages)
	return reply, err
}

// InvokeWithUsage is Invoke with the token counts reported by the provider.
func (c *Client) InvokeWithUsage(ctx context.Context, messages []ports.Message) (string, int, int, error) {
	system, prompt := splitMessages(messages)
	var opts map[string]any
	if system != "" {
		opts = map[string]any{OptSystem: system}
	}
	return c.core.DoRequest(ctx, prompt, opts)
}

// GetModel returns the model name reported by the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// Provider returns the provider label the client was built for.
func (c *Client) Provider() string { return c.provider }

func splitMessages(messages []ports.Message) (system, prompt string) {
	var sys, human []string
	for _, m := range messages {
		switch m.Role {
		case ports.RoleSystem:
			sys = append(sys, m.Content)
		default:
			human = append(human, m.Content)
		}
	}
	return strings.Join(sys, "\n\n"), strings.Join(human, "\n\n")
}

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory registers the factory used by NewClient for a
// provider name. Providers register themselves in init.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[providerType] = factory
}

func providerFactory(providerType string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[providerType]
	return f, ok
}
