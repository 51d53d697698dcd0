package application

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-behave/internal/domain"
)

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
	structValidatorErr  error
)

// StructValidator returns the shared validator with the custom tags used by
// the resolved configuration structs registered.
func StructValidator() (*validator.Validate, error) {
	structValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		if err := RegisterConfigValidators(v); err != nil {
			structValidatorErr = err
			return
		}
		structValidator = v
	})
	return structValidator, structValidatorErr
}

// RegisterConfigValidators registers custom validation functions with
// the validator instance for use in configuration struct tags.
// RegisterConfigValidators returns an error if any validator registration
// fails.
func RegisterConfigValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("provider", validateProviderTag); err != nil {
		return fmt.Errorf("failed to register provider validator: %w", err)
	}
	return nil
}

// validateProviderTag accepts only already-normalized provider identifiers.
func validateProviderTag(fl validator.FieldLevel) bool {
	p, ok := NormalizeProvider(fl.Field().String())
	return ok && p.String() == fl.Field().String()
}

// CheckLLMConfig runs the struct-tag rules over a resolved LLM configuration.
func CheckLLMConfig(cfg domain.LLMConfig) error {
	return checkStruct(cfg, "LLMConfig", func(msg, reason string, details map[string]string) error {
		return domain.NewConfigurationError(msg, reason, details)
	})
}

// CheckRateLimiterConfig runs the struct-tag rules over resolved rate-limiter
// parameters.
func CheckRateLimiterConfig(cfg domain.RateLimiterConfig) error {
	return checkStruct(cfg, "RateLimiterConfig", func(msg, reason string, details map[string]string) error {
		return domain.NewRateLimiterConfigurationError(msg, reason, details)
	})
}

// CheckRetryConfig runs the struct-tag rules over a resolved retry policy.
func CheckRetryConfig(cfg domain.RetryConfig) error {
	return checkStruct(cfg, "RetryConfig", func(msg, reason string, details map[string]string) error {
		return domain.NewRetryConfigurationError(msg, reason, details)
	})
}

type errorFactory func(message, reason string, details map[string]string) error

// checkStruct validates s and converts the first field violation into the
// typed error produced by newErr. The full list of violations is kept in a
// domain.ValidationError under the "violations" detail.
func checkStruct(s any, entity string, newErr errorFactory) error {
	v, err := StructValidator()
	if err != nil {
		return err
	}
	err = v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return newErr(fmt.Sprintf("Invalid %s", entity), err.Error(), nil)
	}

	summary := domain.NewValidationError(entity)
	for _, fe := range fieldErrs {
		summary.AddError(describeFieldError(fe))
	}

	first := fieldErrs[0]
	return newErr(
		fmt.Sprintf("Invalid value for %s: %v", first.Field(), first.Value()),
		describeFieldError(first),
		map[string]string{
			"field":      first.Field(),
			"violations": strings.Join(summary.Errors, "; "),
		},
	)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "provider":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), joinProviders())
	default:
		return fmt.Sprintf("%s failed the %q rule", fe.Field(), fe.Tag())
	}
}
