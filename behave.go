// Package behave asserts that a piece of text behaves the way a
// natural-language description says it should, using an LLM as the judge.
//
// Configuration is resolved in layers: explicit Options first, then the
// config source (the process environment and an optional .env file by
// default), then built-in defaults. Every value is validated before the first
// request, and each failure surfaces as a typed error:
//
//	a, err := behave.New(behave.Options{})
//	if err != nil {
//	    // *behave.ConfigurationError, *behave.RateLimiterConfigurationError, ...
//	}
//	err = a.AssertBehavioralMatch(ctx, reply, "a polite greeting")
//	var failed *behave.BehavioralAssertionError
//	if errors.As(err, &failed) {
//	    fmt.Println(failed.Reason)
//	}
package behave

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-behave/infrastructure/configsource"
	"github.com/ahrav/go-behave/infrastructure/llm"
	"github.com/ahrav/go-behave/internal/application"
	"github.com/ahrav/go-behave/internal/domain"
	"github.com/ahrav/go-behave/internal/ports"
)

// TracerName is the instrumentation scope of assertion spans.
const TracerName = "github.com/ahrav/go-behave"

// DefaultMaxConcurrency bounds AssertAll when Options.MaxConcurrency is unset.
const DefaultMaxConcurrency = 4

type (
	// Settings holds the explicit configuration values. Zero values fall
	// through to the config source and then to the defaults.
	Settings = application.Settings
	// Input is a loosely typed numeric setting (float, int or string).
	Input = application.Input
	// Resolved is a fully validated configuration with per-field origins.
	Resolved = application.Resolved
	// LLMClient is the chat client assertions are judged by.
	LLMClient = ports.LLMClient
	// Message is one chat turn sent to an LLMClient.
	Message = ports.Message
	// ConfigSource is consulted between explicit settings and defaults.
	ConfigSource = ports.ConfigSource
	// MetricsCollector receives assertion and request metrics.
	MetricsCollector = ports.MetricsCollector
)

// Constructors for Input values.
var (
	FloatInput  = application.FloatInput
	IntInput    = application.IntInput
	StringInput = application.StringInput
)

// Options configures an Asserter.
type Options struct {
	Settings

	// SystemPrompt and HumanPrompt replace the built-in templates. A custom
	// human prompt must contain {expected_behavior} and {actual}.
	SystemPrompt string
	HumanPrompt  string

	// Client, when set, is used as is and configuration resolution is
	// skipped entirely.
	Client LLMClient

	// ConfigSource defaults to the process environment chained with .env.
	ConfigSource ConfigSource

	// Pool shares clients between asserters with identical configuration.
	// Defaults to llm.DefaultPool. The tracer, metrics collector and extra
	// middleware of the asserter that first builds a pooled client apply to
	// every asserter sharing it.
	Pool *llm.Pool

	// Middleware is added outside the built-in rate-limit and retry layers.
	Middleware []llm.Middleware

	// Logger defaults to a logger that discards everything.
	Logger *slog.Logger

	// Metrics receives assertion and request metrics. Nil disables them.
	Metrics MetricsCollector

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer

	// MaxConcurrency bounds AssertAll. Defaults to DefaultMaxConcurrency.
	MaxConcurrency int
}

// Asserter runs behavioral assertions against one configured client. It is
// safe for concurrent use.
type Asserter struct {
	client      LLMClient
	prompts     application.PromptConfig
	resolved    *Resolved
	limiter     *llm.RateLimiter
	logger      *slog.Logger
	metrics     MetricsCollector
	tracer      trace.Tracer
	provider    string
	concurrency int
}

// ResolveConfig resolves and validates the configuration New would use,
// without building a client.
func ResolveConfig(opts Options) (Resolved, error) {
	src := opts.ConfigSource
	if src == nil {
		src = configsource.Default(opts.Logger)
	}
	return application.Resolve(opts.Settings, src)
}

// New validates the options and builds an Asserter. Configuration problems
// are reported here, before any request is made.
func New(opts Options) (*Asserter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}

	prompts, err := application.NewPromptConfig(opts.SystemPrompt, opts.HumanPrompt)
	if err != nil {
		return nil, err
	}

	a := &Asserter{
		prompts:     prompts,
		logger:      logger,
		metrics:     opts.Metrics,
		tracer:      tracer,
		concurrency: opts.MaxConcurrency,
	}
	if a.concurrency <= 0 {
		a.concurrency = DefaultMaxConcurrency
	}

	if opts.Client != nil {
		a.client = opts.Client
		a.provider = "custom"
		if p, ok := opts.Client.(interface{ Provider() string }); ok {
			a.provider = p.Provider()
		}
		logger.Debug("using injected client", "model", opts.Client.GetModel())
		return a, nil
	}

	opts.Logger = logger
	resolved, err := ResolveConfig(opts)
	if err != nil {
		return nil, err
	}
	a.resolved = &resolved
	a.provider = resolved.LLM.Provider.String()

	pool := opts.Pool
	if pool == nil {
		pool = llm.DefaultPool
	}
	if resolved.RateLimiter != nil {
		a.limiter = pool.RateLimiter(*resolved.RateLimiter)
	}

	key := llm.ConfigKey(resolved.LLM, resolved.RateLimiter, resolved.Retry)
	client, err := pool.Client(key, func() (LLMClient, error) {
		return buildClient(resolved, a.limiter, opts, tracer)
	})
	if err != nil {
		return nil, domain.NewConfigurationError(
			"Failed to create LLM client",
			err.Error(),
			map[string]string{"provider": a.provider},
		)
	}
	a.client = client

	logger.Info("asserter configured",
		"provider", resolved.LLM.Provider,
		"model", resolved.LLM.Model,
		"api_key", application.RedactKey(resolved.LLM.APIKey),
		"rate_limited", resolved.RateLimiter != nil,
		"retry", resolved.Retry != nil,
		"pool_key", key,
	)
	return a, nil
}

// buildClient assembles the middleware chain: caller middleware and tracing
// outermost, then metrics, retries and finally the rate limiter, so every
// retry attempt waits for its own token.
func buildClient(resolved Resolved, limiter *llm.RateLimiter, opts Options, tracer trace.Tracer) (LLMClient, error) {
	provider := resolved.LLM.Provider.String()

	cfg := llm.FromLLMConfig(resolved.LLM)
	cfg.Middleware = append(cfg.Middleware, opts.Middleware...)
	cfg.Middleware = append(cfg.Middleware,
		llm.TracingMiddleware(tracer, provider),
		llm.MetricsMiddleware(opts.Metrics, provider),
	)
	if resolved.Retry != nil {
		cfg.Middleware = append(cfg.Middleware, llm.RetryMiddleware(llm.RetryPolicyFromConfig(*resolved.Retry)))
	}
	if limiter != nil {
		cfg.Middleware = append(cfg.Middleware, llm.RateLimitMiddleware(limiter))
	}

	client, err := llm.NewClient(resolved.LLM.Provider, cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s client: %w", provider, err)
	}
	return client, nil
}

// Client returns the client assertions are sent to.
func (a *Asserter) Client() LLMClient { return a.client }

// RateLimiter returns the token bucket gating requests, or nil when rate
// limiting is disabled or the client was injected. Asserters with the same
// rate-limiter settings and pool share one bucket.
func (a *Asserter) RateLimiter() *rate.Limiter {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Limiter()
}

// Config returns the resolved configuration. ok is false for asserters built
// around an injected client.
func (a *Asserter) Config() (cfg Resolved, ok bool) {
	if a.resolved == nil {
		return Resolved{}, false
	}
	return *a.resolved, true
}
