package application

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/ahrav/go-behave/internal/domain"
)

var (
	// floatPattern accepts an optional sign, an integer part, an optional
	// fractional part and an optional exponent. It rejects inputs such as
	// "1..3", "1e--3" or "123,456" that a lenient parser might accept.
	floatPattern = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][+-]?\d+)?$`)

	// intPattern accepts only an optional sign followed by digits.
	intPattern = regexp.MustCompile(`^-?\d+$`)

	errMalformedFloat  = errors.New("malformed float")
	errFloatOutOfRange = errors.New("float out of range")
)

type inputKind uint8

const (
	inputString inputKind = iota
	inputFloat
	inputInt
)

// Input carries a raw configuration value that is either a string read from
// a config source or a native number supplied through explicit options.
// The zero value is the empty string input.
type Input struct {
	kind inputKind
	str  string
	f    float64
	i    int
}

// StringInput wraps a value read from a config source.
func StringInput(s string) Input { return Input{kind: inputString, str: s} }

// FloatInput wraps an explicit floating-point value.
func FloatInput(f float64) Input { return Input{kind: inputFloat, f: f} }

// IntInput wraps an explicit integer value.
func IntInput(i int) Input { return Input{kind: inputInt, i: i} }

// String renders the input the way it appears in error messages.
func (in Input) String() string {
	switch in.kind {
	case inputFloat:
		return strconv.FormatFloat(in.f, 'g', -1, 64)
	case inputInt:
		return strconv.Itoa(in.i)
	default:
		return in.str
	}
}

// float64Value converts the input using the strict float grammar. It returns
// errMalformedFloat for text outside the grammar or NaN, and
// errFloatOutOfRange for well-formed values that overflow to infinity.
func (in Input) float64Value() (float64, error) {
	switch in.kind {
	case inputFloat:
		switch {
		case math.IsNaN(in.f):
			return 0, errMalformedFloat
		case math.IsInf(in.f, 0):
			return 0, errFloatOutOfRange
		}
		return in.f, nil
	case inputInt:
		return float64(in.i), nil
	default:
		if !floatPattern.MatchString(in.str) {
			return 0, errMalformedFloat
		}
		v, err := strconv.ParseFloat(in.str, 64)
		if errors.Is(err, strconv.ErrRange) && math.IsInf(v, 0) {
			return 0, errFloatOutOfRange
		}
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, errMalformedFloat
		}
		return v, nil
	}
}

// intValue converts the input using the strict integer grammar. Explicit
// floats are accepted only when integral.
func (in Input) intValue() (int, bool) {
	switch in.kind {
	case inputInt:
		return in.i, true
	case inputFloat:
		if in.f != math.Trunc(in.f) || math.IsInf(in.f, 0) || in.f > math.MaxInt || in.f < math.MinInt {
			return 0, false
		}
		return int(in.f), true
	default:
		if !intPattern.MatchString(in.str) {
			return 0, false
		}
		v, err := strconv.Atoi(in.str)
		if err != nil {
			return 0, false
		}
		return v, true
	}
}

// BoolInput carries a raw boolean setting: either a native bool or a string
// from a config source.
type BoolInput struct {
	isString bool
	str      string
	b        bool
}

// BoolValue wraps an explicit boolean.
func BoolValue(b bool) BoolInput { return BoolInput{b: b} }

// BoolString wraps a boolean read from a config source.
func BoolString(s string) BoolInput { return BoolInput{isString: true, str: s} }

// parseStrictBool accepts only the lowercase literals "true" and "false".
func parseStrictBool(s string) (bool, bool) {
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

const (
	fieldRequestsPerSecond  = "requests_per_second"
	fieldCheckEveryNSeconds = "check_every_n_seconds"
	fieldMaxBucketSize      = "max_bucket_size"
)

func invalidFloatError(field string, in Input, err error) error {
	if errors.Is(err, errFloatOutOfRange) {
		return domain.NewRateLimiterConfigurationError(
			fmt.Sprintf("Out of range %s value for float conversion: %s.", field, in),
			"Must be a finite float.",
			nil,
		)
	}
	return domain.NewRateLimiterConfigurationError(
		fmt.Sprintf("Invalid %s value for float conversion: %s.", field, in),
		"Must be a valid non-negative float.",
		nil,
	)
}

// ValidateRequestsPerSecond parses the limiter refill rate. The floor is 1.0:
// slower rates are rejected rather than treated as valid slow limits.
func ValidateRequestsPerSecond(in Input) (float64, error) {
	v, err := in.float64Value()
	if err != nil {
		return 0, invalidFloatError(fieldRequestsPerSecond, in, err)
	}
	if v < 1.0 {
		return 0, domain.NewRateLimiterConfigurationError(
			fmt.Sprintf("Invalid value for %s: %s.", fieldRequestsPerSecond, in),
			fmt.Sprintf("Value for %s must be at least 1.0.", fieldRequestsPerSecond),
			nil,
		)
	}
	return v, nil
}

// ValidateCheckEveryNSeconds parses the limiter poll interval. Zero means
// "check as often as possible".
func ValidateCheckEveryNSeconds(in Input) (float64, error) {
	v, err := in.float64Value()
	if err != nil {
		return 0, invalidFloatError(fieldCheckEveryNSeconds, in, err)
	}
	if v < 0 {
		return 0, domain.NewRateLimiterConfigurationError(
			fmt.Sprintf("Negative float value passed for %s: %s.", fieldCheckEveryNSeconds, in),
			"Must be a valid non-negative float.",
			nil,
		)
	}
	return v, nil
}

// ValidateMaxBucketSize parses the bucket capacity. Decimals, exponents and
// thousands separators are all rejected.
func ValidateMaxBucketSize(in Input) (int, error) {
	v, ok := in.intValue()
	if !ok {
		return 0, domain.NewRateLimiterConfigurationError(
			fmt.Sprintf("Invalid %s value for integer conversion: %s.", fieldMaxBucketSize, in),
			"Must be a valid non-negative integer.",
			nil,
		)
	}
	if v < 0 {
		return 0, domain.NewRateLimiterConfigurationError(
			fmt.Sprintf("Negative integer value passed for %s: %s.", fieldMaxBucketSize, in),
			"Must be a valid non-negative integer.",
			nil,
		)
	}
	return v, nil
}

// ValidateRateLimiterInputs runs the three limiter validators in field order
// and assembles the result.
func ValidateRateLimiterInputs(rps, checkEvery, bucket Input) (domain.RateLimiterConfig, error) {
	var (
		cfg domain.RateLimiterConfig
		err error
	)
	if cfg.RequestsPerSecond, err = ValidateRequestsPerSecond(rps); err != nil {
		return domain.RateLimiterConfig{}, err
	}
	if cfg.CheckEveryNSeconds, err = ValidateCheckEveryNSeconds(checkEvery); err != nil {
		return domain.RateLimiterConfig{}, err
	}
	if cfg.MaxBucketSize, err = ValidateMaxBucketSize(bucket); err != nil {
		return domain.RateLimiterConfig{}, err
	}
	return cfg, nil
}
