package application

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-behave/internal/domain"
)

// foldCaser is a package-level Unicode case folder shared by all lookups.
var foldCaser = cases.Fold()

// maxSuggestionDistance bounds how far a misspelled model may be from a
// supported one before no suggestion is offered.
const maxSuggestionDistance = 4

// NormalizeProvider folds raw to lower case and matches it against the
// supported providers.
func NormalizeProvider(raw string) (domain.Provider, bool) {
	folded := domain.Provider(foldCaser.String(raw))
	if slices.Contains(domain.Providers, folded) {
		return folded, true
	}
	return "", false
}

// ValidateConfig checks the relationships between configuration fields and
// returns the normalized provider. Checks run in a fixed order and stop at
// the first failure: API key, provider, model, temperature, max_tokens.
func ValidateConfig(cfg domain.ValidationConfig) (domain.Provider, error) {
	if cfg.APIKey == "" {
		return "", domain.NewConfigurationError(
			"API key must be provided.",
			"No API key was passed explicitly or found in the config source.",
			nil,
		)
	}

	provider, ok := NormalizeProvider(cfg.Provider)
	if !ok {
		return "", domain.NewConfigurationError(
			fmt.Sprintf("Invalid provider: %s", cfg.Provider),
			fmt.Sprintf("Provider must be one of: %s", joinProviders()),
			nil,
		)
	}

	if _, ok := cfg.ValidModels[cfg.Model]; !ok {
		supported := sortedModels(cfg.ValidModels)
		var details map[string]string
		if s := suggestModel(cfg.Model, supported); s != "" {
			details = map[string]string{"suggestion": s}
		}
		return "", domain.NewConfigurationError(
			fmt.Sprintf("Invalid model: %s", cfg.Model),
			fmt.Sprintf("Must be one of the supported models for provider %s: %s",
				provider, strings.Join(supported, ", ")),
			details,
		)
	}

	if cfg.Temperature != nil && (*cfg.Temperature < 0 || *cfg.Temperature > 1) {
		return "", domain.NewConfigurationError(
			"Temperature must be between 0 and 1",
			fmt.Sprintf("Received temperature %v", *cfg.Temperature),
			nil,
		)
	}

	if cfg.MaxTokens != nil && *cfg.MaxTokens <= 0 {
		return "", domain.NewConfigurationError(
			"max_tokens must be positive",
			fmt.Sprintf("Received max_tokens %d", *cfg.MaxTokens),
			nil,
		)
	}

	return provider, nil
}

func joinProviders() string {
	names := make([]string, len(domain.Providers))
	for i, p := range domain.Providers {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}

func sortedModels(set map[string]struct{}) []string {
	models := make([]string, 0, len(set))
	for m := range set {
		models = append(models, m)
	}
	slices.Sort(models)
	return models
}

// suggestModel returns the supported model closest to requested by edit
// distance, or "" when nothing is close enough. Ties go to the
// lexicographically smaller name because candidates arrive sorted.
func suggestModel(requested string, candidates []string) string {
	if requested == "" {
		return ""
	}
	best, bestDist := "", maxSuggestionDistance+1
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(requested, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
