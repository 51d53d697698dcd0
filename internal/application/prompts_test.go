package application

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-behave/internal/domain"
	"github.com/ahrav/go-behave/internal/ports"
)

func TestNewPromptConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := NewPromptConfig("", "")
		require.NoError(t, err)
		assert.Equal(t, DefaultSystemPrompt, cfg.SystemPrompt)
		assert.Equal(t, DefaultHumanPrompt, cfg.HumanPrompt)
	})

	t.Run("custom prompts", func(t *testing.T) {
		cfg, err := NewPromptConfig("Custom system prompt", "Custom human prompt with {expected_behavior} and {actual}")
		require.NoError(t, err)
		assert.Equal(t, "Custom system prompt", cfg.SystemPrompt)
		assert.Equal(t, "Custom human prompt with {expected_behavior} and {actual}", cfg.HumanPrompt)
	})

	t.Run("custom system only keeps default human", func(t *testing.T) {
		cfg, err := NewPromptConfig("Only system", "")
		require.NoError(t, err)
		assert.Equal(t, DefaultHumanPrompt, cfg.HumanPrompt)
	})

	for name, human := range map[string]string{
		"no placeholders":  "Invalid prompt without placeholders",
		"missing actual":   "Only {expected_behavior}",
		"missing expected": "Only {actual}",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewPromptConfig("", human)
			require.Error(t, err)
			var promptErr *domain.InvalidPromptError
			require.True(t, errors.As(err, &promptErr))
			assert.Contains(t, err.Error(), "must contain {expected_behavior} and {actual} placeholders")
		})
	}
}

func TestPromptConfig_Messages(t *testing.T) {
	cfg, err := NewPromptConfig("sys", "E={expected_behavior} A={actual}")
	require.NoError(t, err)

	msgs := cfg.Messages("Hello {expected_behavior}", "greets the user")

	require.Len(t, msgs, 2)
	assert.Equal(t, ports.Message{Role: ports.RoleSystem, Content: "sys"}, msgs[0])
	assert.Equal(t, ports.RoleHuman, msgs[1].Role)
	assert.Equal(t, "E=greets the user A=Hello {expected_behavior}", msgs[1].Content,
		"placeholders inside inputs must not be expanded")
}

func TestValidateAssertionInputs(t *testing.T) {
	tests := []struct {
		name       string
		actual     any
		expected   any
		wantReason string
	}{
		{name: "nil actual", actual: nil, expected: "expected behavior", wantReason: "actual must be a string and cannot be nil"},
		{name: "nil expected", actual: "actual output", expected: nil, wantReason: "expected_behavior must be a string and cannot be nil"},
		{name: "both nil reports actual", actual: nil, expected: nil, wantReason: "actual must be a string and cannot be nil"},
		{name: "int actual", actual: 123, expected: "x", wantReason: "actual must be a string, got int"},
		{name: "int expected", actual: "x", expected: 123, wantReason: "expected_behavior must be a string, got int"},
		{name: "float actual", actual: 1.23, expected: "x", wantReason: "actual must be a string, got float64"},
		{name: "bool actual", actual: true, expected: "x", wantReason: "actual must be a string, got bool"},
		{name: "slice actual", actual: []string{}, expected: "x", wantReason: "actual must be a string, got []string"},
		{name: "map actual", actual: map[string]int{}, expected: "x", wantReason: "actual must be a string, got map[string]int"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ValidateAssertionInputs(tt.actual, tt.expected)
			require.Error(t, err)
			var promptErr *domain.InvalidPromptError
			require.True(t, errors.As(err, &promptErr))
			assert.Equal(t, tt.wantReason, promptErr.Reason)
			assert.ErrorIs(t, err, domain.ErrTypeMismatch)
		})
	}

	t.Run("valid strings", func(t *testing.T) {
		a, e, err := ValidateAssertionInputs("actual output", "expected behavior")
		require.NoError(t, err)
		assert.Equal(t, "actual output", a)
		assert.Equal(t, "expected behavior", e)
	})

	t.Run("empty strings are allowed", func(t *testing.T) {
		_, _, err := ValidateAssertionInputs("", "")
		assert.NoError(t, err)
	})
}
