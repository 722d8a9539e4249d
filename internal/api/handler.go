// Package api provides HTTP handlers for the CodeHive API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/codehive/codehive/internal/auth"
	"github.com/codehive/codehive/internal/runtime"
	"github.com/codehive/codehive/internal/store"
)

// Handler provides common handler dependencies.
type Handler struct {
	repo   store.Repository
	tokens *auth.TokenService
	mgr    runtime.Manager // nil when the workspace runtime is disabled
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, tokens *auth.TokenService, mgr runtime.Manager) *Handler {
	return &Handler{
		repo:   repo,
		tokens: tokens,
		mgr:    mgr,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
