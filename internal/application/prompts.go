package application

import (
	"fmt"
	"strings"

	"github.com/ahrav/go-behave/internal/domain"
	"github.com/ahrav/go-behave/internal/ports"
)

// Placeholders every human prompt template must contain.
const (
	PlaceholderExpected = "{expected_behavior}"
	PlaceholderActual   = "{actual}"
)

// DefaultSystemPrompt instructs the model to answer with the strict
// PASS / FAIL: <reason> grammar.
const DefaultSystemPrompt = `You are a testing system. Your job is to determine whether an actual output matches a description of expected behavior.

Rules:
1. Judge semantic meaning and behavior, not exact wording.
2. Minor differences in tone or formatting are acceptable unless the expected behavior calls them out.
3. Missing or contradictory behavior is a mismatch.

Respond with EXACTLY "PASS" if the actual output matches the expected behavior, or "FAIL: <reason>" if it does not. Do not add anything before PASS or FAIL.`

// DefaultHumanPrompt embeds the two assertion inputs.
const DefaultHumanPrompt = `Expected Behavior:
{expected_behavior}

Actual Output:
{actual}

Does the actual output match the expected behavior? Respond with EXACTLY "PASS" or "FAIL: <reason>".`

// PromptConfig holds the system and human templates used for one asserter.
type PromptConfig struct {
	SystemPrompt string
	HumanPrompt  string
}

// NewPromptConfig builds a prompt configuration, falling back to the
// defaults for empty templates. A custom human template lacking either
// placeholder is rejected.
func NewPromptConfig(systemPrompt, humanPrompt string) (PromptConfig, error) {
	cfg := PromptConfig{SystemPrompt: DefaultSystemPrompt, HumanPrompt: DefaultHumanPrompt}
	if systemPrompt != "" {
		cfg.SystemPrompt = systemPrompt
	}
	if humanPrompt != "" {
		if !strings.Contains(humanPrompt, PlaceholderExpected) || !strings.Contains(humanPrompt, PlaceholderActual) {
			return PromptConfig{}, domain.NewInvalidPromptError(
				"Invalid human prompt",
				"Human prompt must contain {expected_behavior} and {actual} placeholders",
				nil,
			)
		}
		cfg.HumanPrompt = humanPrompt
	}
	return cfg, nil
}

// Messages renders the two-message conversation for one assertion. Both
// placeholders are substituted in a single pass, so placeholder text inside
// the inputs themselves is left untouched.
func (p PromptConfig) Messages(actual, expectedBehavior string) []ports.Message {
	r := strings.NewReplacer(
		PlaceholderExpected, expectedBehavior,
		PlaceholderActual, actual,
	)
	return []ports.Message{
		{Role: ports.RoleSystem, Content: p.SystemPrompt},
		{Role: ports.RoleHuman, Content: r.Replace(p.HumanPrompt)},
	}
}

// ValidateAssertionInputs checks that both assertion inputs are non-nil
// strings and returns them. The reason names the offending field and the
// runtime type received.
func ValidateAssertionInputs(actual, expectedBehavior any) (string, string, error) {
	a, err := requireString("actual", actual)
	if err != nil {
		return "", "", err
	}
	e, err := requireString("expected_behavior", expectedBehavior)
	if err != nil {
		return "", "", err
	}
	return a, e, nil
}

func requireString(field string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", domain.NewInvalidPromptError(
			"Invalid input",
			field+" must be a string and cannot be nil",
			nil,
		)
	default:
		return "", domain.NewInvalidPromptError(
			"Invalid input",
			field+" must be a string, got "+typeName(v),
			nil,
		)
	}
}

func typeName(v any) string { return fmt.Sprintf("%T", v) }
