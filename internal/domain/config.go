// Package domain holds the value objects and error taxonomy of behavioral
// assertions: provider specs, validated configurations, reply verdicts and
// the typed errors every layer returns.
package domain

import (
	"math"
	"reflect"
	"time"
)

// Provider identifies a supported LLM vendor.
type Provider string

const (
	// ProviderOpenAI selects OpenAI chat models.
	ProviderOpenAI Provider = "openai"
	// ProviderAnthropic selects Anthropic Claude models.
	ProviderAnthropic Provider = "anthropic"
)

// Providers lists every supported provider in a stable order.
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic}

// String returns the provider identifier.
func (p Provider) String() string { return string(p) }

// ProviderSpec describes where a provider's key lives and which models it
// accepts.
type ProviderSpec struct {
	// EnvVar names the config key holding the provider's API key.
	EnvVar string
	// DefaultModel is used when no model is configured.
	DefaultModel string
	// SupportedModels is the allow-list checked by the config validator.
	SupportedModels []string
}

// ModelSet returns SupportedModels as a set.
func (s ProviderSpec) ModelSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.SupportedModels))
	for _, m := range s.SupportedModels {
		set[m] = struct{}{}
	}
	return set
}

// ProviderCatalog holds the built-in spec for every supported provider.
var ProviderCatalog = map[Provider]ProviderSpec{
	ProviderOpenAI: {
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: "gpt-4o",
		SupportedModels: []string{
			"gpt-4o", "gpt-4o-mini",
			"gpt-4-turbo", "gpt-4",
			"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano",
			"o1", "o1-mini", "o3-mini",
			"gpt-3.5-turbo",
		},
	},
	ProviderAnthropic: {
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: "claude-3-5-sonnet-latest",
		SupportedModels: []string{
			"claude-3-5-sonnet-latest", "claude-3-5-sonnet-20241022",
			"claude-3-5-haiku-latest", "claude-3-7-sonnet-latest",
			"claude-3-opus-latest", "claude-3-haiku-20240307",
			"claude-sonnet-4-0", "claude-opus-4-0",
		},
	},
}

// ValidationConfig is the transient bundle handed to the cross-field
// validator. Optional numeric fields are nil when not set.
type ValidationConfig struct {
	// APIKey authenticates requests to the provider and must be non-empty.
	APIKey string

	// Provider is the raw, not yet normalized provider name.
	Provider string

	// Model is the requested model identifier.
	Model string

	// ValidModels is the provider-specific allow-list supplied by the caller.
	ValidModels map[string]struct{}

	// Temperature must lie in [0.0, 1.0] when set.
	Temperature *float64

	// MaxTokens must be positive when set.
	MaxTokens *int

	// Timeout is the request timeout in seconds.
	Timeout *float64
}

// LLMConfig is the validated, immutable configuration used to build a
// provider client.
type LLMConfig struct {
	Provider    Provider `validate:"required,provider"`
	APIKey      string   `validate:"required"`
	Model       string   `validate:"required"`
	Temperature float64  `validate:"gte=0,lte=1"`
	MaxTokens   int      `validate:"gt=0"`
	MaxRetries  int      `validate:"gte=0"`
	// Timeout is expressed in seconds, zero meaning no client-side timeout.
	Timeout float64 `validate:"gte=0"`
	// BaseURL optionally overrides the provider endpoint.
	BaseURL string `validate:"omitempty,url"`
}

// TimeoutDuration converts the configured timeout to a time.Duration.
func (c LLMConfig) TimeoutDuration() time.Duration {
	return secondsToDuration(c.Timeout)
}

// RateLimiterConfig holds the token-bucket parameters handed to the rate
// limiter.
type RateLimiterConfig struct {
	RequestsPerSecond  float64 `validate:"gte=1"`
	CheckEveryNSeconds float64 `validate:"gte=0"`
	MaxBucketSize      int     `validate:"gte=0"`
}

// CheckInterval converts CheckEveryNSeconds to a time.Duration.
func (c RateLimiterConfig) CheckInterval() time.Duration {
	return secondsToDuration(c.CheckEveryNSeconds)
}

// secondsToDuration converts seconds to a Duration, saturating at the
// largest representable Duration instead of wrapping negative.
func secondsToDuration(seconds float64) time.Duration {
	ns := seconds * float64(time.Second)
	switch {
	case ns >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	case ns <= math.MinInt64:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ns)
}

// RetryConfig describes when and how failed LLM calls are retried.
type RetryConfig struct {
	// RetryIfErrorTypes lists the error types that trigger a retry. The
	// interface type error matches every error. Elements are checked by the
	// application layer rather than by struct tags.
	RetryIfErrorTypes []reflect.Type

	// WaitExponentialJitter enables randomized exponential backoff.
	WaitExponentialJitter bool

	// StopAfterAttempt is the total number of attempts, including the first.
	StopAfterAttempt int `validate:"gt=0"`
}
