package behave

import "github.com/ahrav/go-behave/internal/domain"

// Error types returned by New and AssertBehavioralMatch. All of them share
// TestError, so errors.As with *TestError-embedding types exposes Message,
// Reason and Details.
type (
	TestError                     = domain.TestError
	ConfigurationError            = domain.ConfigurationError
	RateLimiterConfigurationError = domain.RateLimiterConfigurationError
	RetryConfigurationError       = domain.RetryConfigurationError
	InvalidPromptError            = domain.InvalidPromptError
	ConnectionError               = domain.ConnectionError
	BehavioralAssertionError      = domain.BehavioralAssertionError
	FormatError                   = domain.FormatError
)

// Sentinels matched by errors.Is.
var (
	// ErrInvalidConfiguration matches every configuration error kind.
	ErrInvalidConfiguration = domain.ErrInvalidConfiguration
	// ErrTypeMismatch matches *InvalidPromptError.
	ErrTypeMismatch = domain.ErrTypeMismatch
)
