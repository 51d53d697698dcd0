package application

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ahrav/go-behave/internal/domain"
	"github.com/ahrav/go-behave/internal/ports"
)

// Config source keys recognized by the resolver.
const (
	KeyOpenAIAPIKey          = "OPENAI_API_KEY"
	KeyAnthropicAPIKey       = "ANTHROPIC_API_KEY"
	KeyProvider              = "LLM_PROVIDER"
	KeyModel                 = "LLM_MODEL"
	KeyTemperature           = "LLM_TEMPERATURE"
	KeyMaxTokens             = "LLM_MAX_TOKENS"
	KeyMaxRetries            = "LLM_MAX_RETRIES"
	KeyTimeout               = "LLM_TIMEOUT"
	KeyRequestsPerSecond     = "RATE_LIMITER_REQUESTS_PER_SECOND"
	KeyCheckEveryNSeconds    = "RATE_LIMITER_CHECK_EVERY_N_SECONDS"
	KeyMaxBucketSize         = "RATE_LIMITER_MAX_BUCKET_SIZE"
	KeyWithRetry             = "LANGCHAIN_WITH_RETRY"
	KeyWaitExponentialJitter = "ASSERTER_WAIT_EXPONENTIAL_JITTER"
	KeyStopAfterAttempt      = "ASSERTER_STOP_AFTER_ATTEMPT"
)

// Built-in defaults, used when neither an explicit option nor the config
// source supplies a value.
const (
	DefaultProvider              = domain.ProviderOpenAI
	DefaultTemperature           = 0.0
	DefaultMaxTokens             = 4096
	DefaultMaxRetries            = 2
	DefaultTimeout               = 60.0
	DefaultRequestsPerSecond     = 1.0
	DefaultCheckEveryNSeconds    = 0.1
	DefaultMaxBucketSize         = 1
	DefaultWaitExponentialJitter = true
	DefaultStopAfterAttempt      = 3
)

// DefaultRetryIfErrorTypes returns the default retry filter, which matches
// every error.
func DefaultRetryIfErrorTypes() []reflect.Type { return []reflect.Type{errorType} }

// Origin records which layer supplied a resolved value.
type Origin string

const (
	OriginExplicit Origin = "explicit"
	OriginSource   Origin = "config"
	OriginDefault  Origin = "default"
)

// Settings carries the explicit values a caller supplied. Nil pointers and
// empty strings mean "not set" and fall through to the config source.
type Settings struct {
	APIKey      string
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   *int
	MaxRetries  *int
	Timeout     *float64
	BaseURL     string

	// UseRateLimiter enables rate-limiter resolution.
	UseRateLimiter     bool
	RequestsPerSecond  *Input
	CheckEveryNSeconds *Input
	MaxBucketSize      *Input

	// WithRetry enables retry resolution. When nil the config source decides.
	WithRetry             *bool
	RetryIfErrorTypes     []reflect.Type
	WaitExponentialJitter *bool
	StopAfterAttempt      *Input
}

// Resolved is the fully validated configuration for one asserter.
type Resolved struct {
	LLM domain.LLMConfig

	// RateLimiter is nil when rate limiting is disabled.
	RateLimiter *domain.RateLimiterConfig

	// Retry is nil when retries are disabled.
	Retry *domain.RetryConfig

	// Origins maps each resolved field to the layer that supplied it.
	Origins map[string]Origin
}

// resolver threads the config source and the origin bookkeeping through the
// per-field lookups.
type resolver struct {
	src     ports.ConfigSource
	origins map[string]Origin
}

// lookup returns the non-empty value stored under key.
func (r *resolver) lookup(key string) (string, bool) {
	if r.src == nil {
		return "", false
	}
	v, ok := r.src.Lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *resolver) str(field, explicit, key, def string) string {
	if explicit != "" {
		r.origins[field] = OriginExplicit
		return explicit
	}
	if v, ok := r.lookup(key); ok {
		r.origins[field] = OriginSource
		return v
	}
	r.origins[field] = OriginDefault
	return def
}

func (r *resolver) input(field string, explicit *Input, key string, def Input) Input {
	if explicit != nil {
		r.origins[field] = OriginExplicit
		return *explicit
	}
	if v, ok := r.lookup(key); ok {
		r.origins[field] = OriginSource
		return StringInput(v)
	}
	r.origins[field] = OriginDefault
	return def
}

func (r *resolver) floatField(field string, explicit *float64, key string, def float64) (float64, error) {
	var in Input
	if explicit != nil {
		in = FloatInput(*explicit)
		r.origins[field] = OriginExplicit
	} else {
		in = r.input(field, nil, key, FloatInput(def))
	}
	v, err := in.float64Value()
	if errors.Is(err, errFloatOutOfRange) {
		return 0, domain.NewConfigurationError(
			fmt.Sprintf("Out of range %s value for float conversion: %s.", key, in),
			"Must be a finite float.",
			map[string]string{"key": key},
		)
	}
	if err != nil {
		return 0, domain.NewConfigurationError(
			fmt.Sprintf("Invalid %s value for float conversion: %s.", key, in),
			"Must be a valid float.",
			map[string]string{"key": key},
		)
	}
	return v, nil
}

func (r *resolver) intField(field string, explicit *int, key string, def int) (int, error) {
	var in Input
	if explicit != nil {
		in = IntInput(*explicit)
		r.origins[field] = OriginExplicit
	} else {
		in = r.input(field, nil, key, IntInput(def))
	}
	v, ok := in.intValue()
	if !ok {
		return 0, domain.NewConfigurationError(
			fmt.Sprintf("Invalid %s value for integer conversion: %s.", key, in),
			"Must be a valid integer.",
			map[string]string{"key": key},
		)
	}
	return v, nil
}

// Resolve merges explicit settings, the config source and the built-in
// defaults, in that order of precedence, and validates the result. The first
// violation is returned as a typed configuration error.
func Resolve(s Settings, src ports.ConfigSource) (Resolved, error) {
	r := &resolver{src: src, origins: make(map[string]Origin)}

	llmCfg, err := r.resolveLLM(s)
	if err != nil {
		return Resolved{}, err
	}
	out := Resolved{LLM: llmCfg, Origins: r.origins}

	if s.UseRateLimiter {
		rl, err := r.resolveRateLimiter(s)
		if err != nil {
			return Resolved{}, err
		}
		out.RateLimiter = &rl
	}

	enabled, err := r.retryEnabled(s)
	if err != nil {
		return Resolved{}, err
	}
	if enabled {
		rc, err := r.resolveRetry(s)
		if err != nil {
			return Resolved{}, err
		}
		out.Retry = &rc
	}

	return out, nil
}

// SpecFor picks the catalog entry for a raw provider name. Anything that
// does not fold to openai uses the Anthropic entry, so an unknown provider
// is still reported by the config validator rather than here.
func SpecFor(rawProvider string) domain.ProviderSpec {
	if p, ok := NormalizeProvider(rawProvider); ok && p == domain.ProviderOpenAI {
		return domain.ProviderCatalog[domain.ProviderOpenAI]
	}
	return domain.ProviderCatalog[domain.ProviderAnthropic]
}

func (r *resolver) resolveLLM(s Settings) (domain.LLMConfig, error) {
	rawProvider := r.str("provider", s.Provider, KeyProvider, DefaultProvider.String())
	spec := SpecFor(rawProvider)

	apiKey := r.str("api_key", s.APIKey, spec.EnvVar, "")
	model := r.str("model", s.Model, KeyModel, spec.DefaultModel)

	temperature, err := r.floatField("temperature", s.Temperature, KeyTemperature, DefaultTemperature)
	if err != nil {
		return domain.LLMConfig{}, err
	}
	maxTokens, err := r.intField("max_tokens", s.MaxTokens, KeyMaxTokens, DefaultMaxTokens)
	if err != nil {
		return domain.LLMConfig{}, err
	}
	maxRetries, err := r.intField("max_retries", s.MaxRetries, KeyMaxRetries, DefaultMaxRetries)
	if err != nil {
		return domain.LLMConfig{}, err
	}
	timeout, err := r.floatField("timeout", s.Timeout, KeyTimeout, DefaultTimeout)
	if err != nil {
		return domain.LLMConfig{}, err
	}

	provider, err := ValidateConfig(domain.ValidationConfig{
		APIKey:      apiKey,
		Provider:    rawProvider,
		Model:       model,
		ValidModels: spec.ModelSet(),
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Timeout:     &timeout,
	})
	if err != nil {
		return domain.LLMConfig{}, err
	}

	cfg := domain.LLMConfig{
		Provider:    provider,
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		MaxRetries:  maxRetries,
		Timeout:     timeout,
		BaseURL:     s.BaseURL,
	}
	if err := CheckLLMConfig(cfg); err != nil {
		return domain.LLMConfig{}, err
	}
	return cfg, nil
}

func (r *resolver) resolveRateLimiter(s Settings) (domain.RateLimiterConfig, error) {
	cfg, err := ValidateRateLimiterInputs(
		r.input("requests_per_second", s.RequestsPerSecond, KeyRequestsPerSecond, FloatInput(DefaultRequestsPerSecond)),
		r.input("check_every_n_seconds", s.CheckEveryNSeconds, KeyCheckEveryNSeconds, FloatInput(DefaultCheckEveryNSeconds)),
		r.input("max_bucket_size", s.MaxBucketSize, KeyMaxBucketSize, IntInput(DefaultMaxBucketSize)),
	)
	if err != nil {
		return domain.RateLimiterConfig{}, err
	}
	if err := CheckRateLimiterConfig(cfg); err != nil {
		return domain.RateLimiterConfig{}, err
	}
	return cfg, nil
}

func (r *resolver) retryEnabled(s Settings) (bool, error) {
	if s.WithRetry != nil {
		r.origins["with_retry"] = OriginExplicit
		return *s.WithRetry, nil
	}
	v, ok := r.lookup(KeyWithRetry)
	if !ok {
		r.origins["with_retry"] = OriginDefault
		return false, nil
	}
	r.origins["with_retry"] = OriginSource
	enabled, ok := parseStrictBool(v)
	if !ok {
		return false, domain.NewRetryConfigurationError(
			fmt.Sprintf("Invalid boolean string for %s: %s.", KeyWithRetry, v),
			"Must be 'true' or 'false'.",
			nil,
		)
	}
	return enabled, nil
}

func (r *resolver) resolveRetry(s Settings) (domain.RetryConfig, error) {
	types := s.RetryIfErrorTypes
	if types == nil {
		types = DefaultRetryIfErrorTypes()
		r.origins["retry_if_error_types"] = OriginDefault
	} else {
		r.origins["retry_if_error_types"] = OriginExplicit
	}

	var jitter BoolInput
	switch v, ok := r.lookup(KeyWaitExponentialJitter); {
	case s.WaitExponentialJitter != nil:
		jitter = BoolValue(*s.WaitExponentialJitter)
		r.origins["wait_exponential_jitter"] = OriginExplicit
	case ok:
		jitter = BoolString(v)
		r.origins["wait_exponential_jitter"] = OriginSource
	default:
		jitter = BoolValue(DefaultWaitExponentialJitter)
		r.origins["wait_exponential_jitter"] = OriginDefault
	}

	stop := r.input("stop_after_attempt", s.StopAfterAttempt, KeyStopAfterAttempt, IntInput(DefaultStopAfterAttempt))

	cfg, err := ValidateRetryInputs(types, jitter, stop)
	if err != nil {
		return domain.RetryConfig{}, err
	}
	if err := CheckRetryConfig(cfg); err != nil {
		return domain.RetryConfig{}, err
	}
	return cfg, nil
}

// RedactKey masks all but the last four characters of an API key.
func RedactKey(key string) string {
	const visible = 4
	if len(key) <= visible {
		return "****"
	}
	return "****" + key[len(key)-visible:]
}
