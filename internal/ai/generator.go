package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrGenerationExhausted is returned when every candidate in the
// preference list has been tried without success. It wraps the last
// observed vendor error.
var ErrGenerationExhausted = errors.New("all models failed to generate content")

// ModelAPI is the vendor surface the generator drives: a fresh model
// listing per prompt and a single-model generation call.
type ModelAPI interface {
	ListModels(ctx context.Context) ([]Candidate, error)
	Generate(ctx context.Context, modelID, prompt string) (string, error)
}

// Generator implements the linear fallback pipeline over an ordered
// preference list.
type Generator struct {
	api       ModelAPI
	preferred string
}

// NewGenerator creates a generator. preferred is the operator-configured
// model consulted before the hardcoded fallbacks; empty is allowed.
func NewGenerator(api ModelAPI, preferred string) *Generator {
	return &Generator{api: api, preferred: preferred}
}

// Generate runs the fallback pipeline: fetch live candidates (no
// caching), walk the preference list, and invoke the first matching
// model. A retryable failure advances to the next candidate; a
// non-retryable failure aborts immediately rather than wasting attempts.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	candidates, err := g.api.ListModels(ctx)
	if err != nil {
		return "", fmt.Errorf("list models: %w", err)
	}

	var lastErr error
	for _, pref := range PreferenceList(g.preferred) {
		modelID, ok := Match(candidates, pref)
		if !ok {
			continue
		}

		slog.Info("Attempting AI generation", "model", modelID)
		text, err := g.api.Generate(ctx, modelID, prompt)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if !isRetryable(err) {
			slog.Error("AI model failed with non-retryable error", "model", modelID, "error", err)
			return "", fmt.Errorf("%w: %w", ErrGenerationExhausted, err)
		}
		slog.Warn("AI model overloaded or unavailable, trying next", "model", modelID, "error", err)
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationExhausted, lastErr)
	}
	return "", ErrGenerationExhausted
}

// isRetryable reports whether a vendor error indicates transient
// overload or unavailability, matched by substring on a fixed token set.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "503") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "service unavailable")
}
