// Package ai provides the model-selection, generation-fallback, and AI
// turn pipeline behind the chat @ai marker.
package ai

import (
	"strings"
)

// Candidate is one vendor-advertised model, fetched fresh per request.
type Candidate struct {
	ID                 string
	SupportsGeneration bool
}

// fallbackModels is the fixed sequence of known-good model identifiers
// consulted after the operator-preferred model.
var fallbackModels = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-1.5-flash",
	"gemini-2.0-flash-lite",
	"gemini-1.5-pro",
	"gemini-pro",
}

// NormalizeModelID strips the vendor's "models/" resource prefix.
func NormalizeModelID(id string) string {
	return strings.TrimPrefix(id, "models/")
}

// PreferenceList builds the ordered preference list: the operator-
// configured model first (if set), then the hardcoded fallbacks.
func PreferenceList(preferred string) []string {
	prefs := make([]string, 0, len(fallbackModels)+1)
	if p := NormalizeModelID(strings.TrimSpace(preferred)); p != "" {
		prefs = append(prefs, p)
	}
	return append(prefs, fallbackModels...)
}

// Match finds the first candidate whose id equals the preference or
// carries it as a versioned prefix ("gemini-2.5-flash" matches
// "gemini-2.5-flash-001"). Candidates without generation support are
// never matched.
func Match(candidates []Candidate, preference string) (string, bool) {
	for _, c := range candidates {
		if !c.SupportsGeneration {
			continue
		}
		id := NormalizeModelID(c.ID)
		if id == preference || strings.HasPrefix(id, preference+"-") {
			return id, true
		}
	}
	return "", false
}
