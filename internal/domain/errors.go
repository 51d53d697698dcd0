package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common domain errors that can occur while configuring or running an
// assertion.
var (
	// ErrTypeMismatch indicates that a value's type doesn't match the expected type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Message prefixes for each error kind. Callers may pattern-match on the
// rendered string, so these are part of the public contract.
const (
	configurationPrefix       = "LLM configuration error: "
	rateLimiterPrefix         = "Rate limiter configuration error: "
	retryPrefix               = "Retry configuration error: "
	invalidPromptPrefix       = "Invalid prompt error: "
	connectionPrefix          = "LLM connection error: "
	behavioralAssertionPrefix = "Behavioral assertion failed: "
	formatNonCompliancePrefix = "Format Non-compliance Detected "
)

// TestError is the structured shape shared by every error this library
// produces. It carries a human-readable message, an optional reason and a
// free-form details mapping.
type TestError struct {
	// Message is the primary description, already carrying the kind prefix.
	Message string

	// Reason explains the specific cause, if known.
	Reason string

	// Details holds additional key/value context such as the offending field.
	Details map[string]string
}

// Error renders the error as "message - Reason: reason - Details: {k: v}".
// Details keys are sorted so the rendering is stable.
func (e *TestError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Reason != "" {
		b.WriteString(" - Reason: ")
		b.WriteString(e.Reason)
	}
	if len(e.Details) > 0 {
		b.WriteString(" - Details: ")
		b.WriteString(formatDetails(e.Details))
	}
	return b.String()
}

func formatDetails(details map[string]string) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, details[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func newTestError(prefix, message, reason string, details map[string]string) TestError {
	return TestError{
		Message: prefix + message,
		Reason:  reason,
		Details: details,
	}
}

// ConfigurationError is raised when the resolved LLM configuration is invalid:
// unknown provider, model outside the provider allow-list, temperature out of
// range, non-positive max_tokens, missing API key or a malformed value.
type ConfigurationError struct{ TestError }

// Is reports whether target is ErrInvalidConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrInvalidConfiguration }

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(message, reason string, details map[string]string) *ConfigurationError {
	return &ConfigurationError{newTestError(configurationPrefix, message, reason, details)}
}

// RateLimiterConfigurationError is raised when a rate-limiter field is
// malformed or out of bounds.
type RateLimiterConfigurationError struct{ TestError }

// Is reports whether target is ErrInvalidConfiguration.
func (e *RateLimiterConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// NewRateLimiterConfigurationError creates a new RateLimiterConfigurationError.
func NewRateLimiterConfigurationError(message, reason string, details map[string]string) *RateLimiterConfigurationError {
	return &RateLimiterConfigurationError{newTestError(rateLimiterPrefix, message, reason, details)}
}

// RetryConfigurationError is raised when a retry policy field is malformed
// or out of bounds.
type RetryConfigurationError struct{ TestError }

// Is reports whether target is ErrInvalidConfiguration.
func (e *RetryConfigurationError) Is(target error) bool { return target == ErrInvalidConfiguration }

// NewRetryConfigurationError creates a new RetryConfigurationError.
func NewRetryConfigurationError(message, reason string, details map[string]string) *RetryConfigurationError {
	return &RetryConfigurationError{newTestError(retryPrefix, message, reason, details)}
}

// InvalidPromptError is raised when assertion inputs or custom prompt
// templates are unusable.
type InvalidPromptError struct{ TestError }

// Is reports whether target is ErrTypeMismatch.
func (e *InvalidPromptError) Is(target error) bool { return target == ErrTypeMismatch }

// NewInvalidPromptError creates a new InvalidPromptError.
func NewInvalidPromptError(message, reason string, details map[string]string) *InvalidPromptError {
	return &InvalidPromptError{newTestError(invalidPromptPrefix, message, reason, details)}
}

// ConnectionError wraps a provider-level failure (transport, authentication,
// quota) that happened while talking to the LLM.
type ConnectionError struct {
	TestError

	// Err is the underlying provider error.
	Err error
}

// Unwrap returns the underlying provider error.
func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError creates a new ConnectionError. The reason defaults to
// the wrapped error's message.
func NewConnectionError(message string, err error, details map[string]string) *ConnectionError {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return &ConnectionError{
		TestError: newTestError(connectionPrefix, message, reason, details),
		Err:       err,
	}
}

// BehavioralAssertionError reports that the model judged the actual output as
// not matching the expected behavior. Reason carries the model's explanation
// verbatim.
type BehavioralAssertionError struct{ TestError }

// NewBehavioralAssertionError creates a new BehavioralAssertionError.
func NewBehavioralAssertionError(message, reason string, details map[string]string) *BehavioralAssertionError {
	return &BehavioralAssertionError{newTestError(behavioralAssertionPrefix, message, reason, details)}
}

// FormatError reports that the model reply matched neither the PASS nor the
// FAIL prefix. It signals a broken prompt contract, not a semantic mismatch.
type FormatError struct {
	// Reply is the raw model output.
	Reply string
}

// Error implements the error interface for FormatError.
func (e *FormatError) Error() string { return formatNonCompliancePrefix + e.Reply }

// NewFormatError creates a new FormatError for the given reply.
func NewFormatError(reply string) *FormatError { return &FormatError{Reply: reply} }

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
