package application

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-behave/internal/domain"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timed out" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func requireRetryError(t *testing.T, err error, wantMsg string) {
	t.Helper()
	require.Error(t, err)
	var rErr *domain.RetryConfigurationError
	require.True(t, errors.As(err, &rErr), "expected RetryConfigurationError, got %T", err)
	assert.Contains(t, err.Error(), wantMsg)
}

func TestIsErrorType(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want bool
	}{
		{name: "error interface", typ: reflect.TypeFor[error](), want: true},
		{name: "pointer error type", typ: reflect.TypeFor[*fs.PathError](), want: true},
		{name: "value error type", typ: reflect.TypeFor[timeoutErr](), want: true},
		{name: "interface extending error", typ: reflect.TypeFor[net.Error](), want: true},
		{name: "nil", typ: nil, want: false},
		{name: "int", typ: reflect.TypeFor[int](), want: false},
		{name: "string", typ: reflect.TypeFor[string](), want: false},
		{name: "struct without Error", typ: reflect.TypeFor[fs.PathError](), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsErrorType(tt.typ))
		})
	}
}

func TestValidateRetryIfErrorTypes(t *testing.T) {
	t.Run("valid types pass through", func(t *testing.T) {
		in := []reflect.Type{reflect.TypeFor[*fs.PathError](), reflect.TypeFor[net.Error]()}
		got, err := ValidateRetryIfErrorTypes(in)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	})

	t.Run("empty list is permitted", func(t *testing.T) {
		got, err := ValidateRetryIfErrorTypes([]reflect.Type{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("non-error element fails", func(t *testing.T) {
		_, err := ValidateRetryIfErrorTypes([]reflect.Type{reflect.TypeFor[error](), reflect.TypeFor[int]()})
		requireRetryError(t, err, "Invalid error type: int")
		assert.Contains(t, err.Error(), "index: 1")
	})

	t.Run("nil element fails", func(t *testing.T) {
		_, err := ValidateRetryIfErrorTypes([]reflect.Type{nil})
		requireRetryError(t, err, "Invalid error type: <nil>")
	})
}

func TestValidateWaitExponentialJitter(t *testing.T) {
	tests := []struct {
		name    string
		input   BoolInput
		want    bool
		wantErr bool
	}{
		{name: "string true", input: BoolString("true"), want: true},
		{name: "string false", input: BoolString("false"), want: false},
		{name: "native true", input: BoolValue(true), want: true},
		{name: "native false", input: BoolValue(false), want: false},
		{name: "yes", input: BoolString("yes"), wantErr: true},
		{name: "no", input: BoolString("no"), wantErr: true},
		{name: "uppercase", input: BoolString("True"), wantErr: true},
		{name: "numeric", input: BoolString("1"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateWaitExponentialJitter(tt.input)
			if tt.wantErr {
				requireRetryError(t, err, "Invalid boolean string for wait_exponential_jitter")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateStopAfterAttempt(t *testing.T) {
	tests := []struct {
		name    string
		input   Input
		want    int
		wantErr string
	}{
		{name: "one", input: StringInput("1"), want: 1},
		{name: "ten", input: StringInput("10"), want: 10},
		{name: "explicit", input: IntInput(4), want: 4},
		{name: "zero", input: StringInput("0"), wantErr: "Invalid value for stop_after_attempt: 0."},
		{name: "negative", input: StringInput("-1"), wantErr: "Invalid value for stop_after_attempt: -1."},
		{name: "explicit zero", input: IntInput(0), wantErr: "must be a positive integer"},
		{name: "letters", input: StringInput("abc"), wantErr: "Invalid stop_after_attempt value for integer conversion: abc."},
		{name: "decimal", input: StringInput("2.0"), wantErr: "value for integer conversion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateStopAfterAttempt(tt.input)
			if tt.wantErr != "" {
				requireRetryError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesErrorTypes(t *testing.T) {
	pathErr := &fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}
	wrapped := fmt.Errorf("loading: %w", pathErr)
	joined := errors.Join(errors.New("first"), timeoutErr{})

	tests := []struct {
		name  string
		err   error
		types []reflect.Type
		want  bool
	}{
		{name: "error interface matches anything", err: errors.New("x"), types: DefaultRetryIfErrorTypes(), want: true},
		{name: "nil error never matches", err: nil, types: DefaultRetryIfErrorTypes(), want: false},
		{name: "empty filter never matches", err: errors.New("x"), types: nil, want: false},
		{name: "concrete type through wrap", err: wrapped, types: []reflect.Type{reflect.TypeFor[*fs.PathError]()}, want: true},
		{name: "concrete type mismatch", err: errors.New("x"), types: []reflect.Type{reflect.TypeFor[*fs.PathError]()}, want: false},
		{name: "interface through join", err: joined, types: []reflect.Type{reflect.TypeFor[net.Error]()}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesErrorTypes(tt.err, tt.types))
		})
	}
}

func TestValidateRetryInputs(t *testing.T) {
	cfg, err := ValidateRetryInputs(DefaultRetryIfErrorTypes(), BoolString("false"), StringInput("5"))
	require.NoError(t, err)
	assert.Equal(t, domain.RetryConfig{
		RetryIfErrorTypes:     DefaultRetryIfErrorTypes(),
		WaitExponentialJitter: false,
		StopAfterAttempt:      5,
	}, cfg)

	_, err = ValidateRetryInputs(nil, BoolString("yes"), StringInput("5"))
	requireRetryError(t, err, "wait_exponential_jitter")
}
