package ai

import (
	"encoding/json"
	"strings"

	"github.com/codehive/codehive/internal/domain"
)

// Output is the structured payload the system instruction asks the model
// for. Any field may be absent.
type Output struct {
	Text         string          `json:"text"`
	FileTree     json.RawMessage `json:"fileTree,omitempty"`
	BuildCommand *domain.Command `json:"buildCommand,omitempty"`
	StartCommand *domain.Command `json:"startCommand,omitempty"`
}

// ParseOutput decodes a model response into its structured form. Models
// occasionally wrap JSON in a markdown fence despite the response MIME
// type, so fences are stripped first. A response that still fails to
// parse is not an error: the raw text is surfaced to the chat as-is.
func ParseOutput(raw string) (*Output, bool) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var out Output
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, false
	}
	return &out, true
}
