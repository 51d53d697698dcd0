package application

import (
	"fmt"
	"iter"
	"reflect"

	"github.com/ahrav/go-behave/internal/domain"
)

var errorType = reflect.TypeFor[error]()

// IsErrorType reports whether t can stand for a kind of error in a retry
// policy. The error interface itself qualifies and matches every error.
func IsErrorType(t reflect.Type) bool {
	return t != nil && t.Implements(errorType)
}

// ValidateStopAfterAttempt parses the total attempt budget, which must be a
// positive integer.
func ValidateStopAfterAttempt(in Input) (int, error) {
	v, ok := in.intValue()
	if !ok {
		return 0, domain.NewRetryConfigurationError(
			fmt.Sprintf("Invalid stop_after_attempt value for integer conversion: %s.", in),
			"stop_after_attempt must be a positive integer.",
			nil,
		)
	}
	if v <= 0 {
		return 0, domain.NewRetryConfigurationError(
			fmt.Sprintf("Invalid value for stop_after_attempt: %s.", in),
			"stop_after_attempt must be a positive integer.",
			nil,
		)
	}
	return v, nil
}

// ValidateWaitExponentialJitter returns native booleans unchanged and maps
// only the exact strings "true" and "false".
func ValidateWaitExponentialJitter(in BoolInput) (bool, error) {
	if !in.isString {
		return in.b, nil
	}
	if v, ok := parseStrictBool(in.str); ok {
		return v, nil
	}
	return false, domain.NewRetryConfigurationError(
		fmt.Sprintf("Invalid boolean string for wait_exponential_jitter: %s.", in.str),
		"Must be 'true' or 'false'.",
		nil,
	)
}

// ValidateRetryIfErrorTypes checks that every element names an error type.
// An empty list is permitted and disables type-based retries.
func ValidateRetryIfErrorTypes(types []reflect.Type) ([]reflect.Type, error) {
	for i, t := range types {
		if IsErrorType(t) {
			continue
		}
		received := "<nil>"
		if t != nil {
			received = t.String()
		}
		return nil, domain.NewRetryConfigurationError(
			"All elements in retry_if_error_types must be error types",
			fmt.Sprintf("Invalid error type: %s", received),
			map[string]string{"index": fmt.Sprint(i)},
		)
	}
	return types, nil
}

// MatchesErrorTypes reports whether err, or any error in its chain, has one
// of the given types. Interface types match by implementation, concrete types
// by identity.
func MatchesErrorTypes(err error, types []reflect.Type) bool {
	if err == nil {
		return false
	}
	for _, t := range types {
		if t.Kind() == reflect.Interface {
			if matchesInterface(err, t) {
				return true
			}
			continue
		}
		if matchesConcrete(err, t) {
			return true
		}
	}
	return false
}

func matchesInterface(err error, t reflect.Type) bool {
	for e := range errorChain(err) {
		if reflect.TypeOf(e).Implements(t) {
			return true
		}
	}
	return false
}

func matchesConcrete(err error, t reflect.Type) bool {
	for e := range errorChain(err) {
		if reflect.TypeOf(e) == t {
			return true
		}
	}
	return false
}

// errorChain walks err and everything it wraps, depth first.
func errorChain(err error) iter.Seq[error] {
	return func(yield func(error) bool) {
		var walk func(error) bool
		walk = func(e error) bool {
			if e == nil {
				return true
			}
			if !yield(e) {
				return false
			}
			switch u := e.(type) {
			case interface{ Unwrap() error }:
				return walk(u.Unwrap())
			case interface{ Unwrap() []error }:
				for _, inner := range u.Unwrap() {
					if !walk(inner) {
						return false
					}
				}
			}
			return true
		}
		walk(err)
	}
}

// ValidateRetryInputs runs the three retry validators and assembles the
// result.
func ValidateRetryInputs(types []reflect.Type, jitter BoolInput, stopAfter Input) (domain.RetryConfig, error) {
	var (
		cfg domain.RetryConfig
		err error
	)
	if cfg.RetryIfErrorTypes, err = ValidateRetryIfErrorTypes(types); err != nil {
		return domain.RetryConfig{}, err
	}
	if cfg.WaitExponentialJitter, err = ValidateWaitExponentialJitter(jitter); err != nil {
		return domain.RetryConfig{}, err
	}
	if cfg.StopAfterAttempt, err = ValidateStopAfterAttempt(stopAfter); err != nil {
		return domain.RetryConfig{}, err
	}
	return cfg, nil
}
