package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codehive/codehive/internal/auth"
	"github.com/codehive/codehive/internal/domain"
	"github.com/codehive/codehive/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const minPasswordLength = 6

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// RegisterUserRoutes mounts the user account endpoints.
func (h *Handler) RegisterUserRoutes(r chi.Router, authed func(http.Handler) http.Handler) {
	r.Post("/users/register", h.registerUser)
	r.Post("/users/login", h.loginUser)

	r.Group(func(r chi.Router) {
		r.Use(authed)
		r.Get("/users/profile", h.profile)
		r.Get("/users/all", h.listUsers)
	})
}

func (h *Handler) registerUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		Error(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		Error(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "failed to register")
		return
	}

	now := time.Now()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			Error(w, http.StatusConflict, "email already registered")
			return
		}
		slog.Error("Failed to create user", "error", err)
		Error(w, http.StatusInternalServerError, "failed to register")
		return
	}

	token, err := h.tokens.Issue(user.Email)
	if err != nil {
		slog.Error("Failed to issue token", "error", err)
		Error(w, http.StatusInternalServerError, "failed to register")
		return
	}

	JSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

func (h *Handler) loginUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.repo.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		slog.Error("Failed to load user", "error", err)
		Error(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	if user.IsAIIdentity() || !auth.CheckPassword(user.PasswordHash, req.Password) {
		Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user.Email)
	if err != nil {
		slog.Error("Failed to issue token", "error", err)
		Error(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	JSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]*domain.User{"user": user})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	current := auth.UserFromContext(r.Context())
	if current == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	users, err := h.repo.ListUsers(r.Context(), current.ID)
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	JSON(w, http.StatusOK, map[string][]*domain.User{"users": users})
}
