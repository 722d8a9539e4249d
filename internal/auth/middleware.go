package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/codehive/codehive/internal/domain"
	"github.com/codehive/codehive/internal/store"
)

type contextKey int

const userKey contextKey = iota

// UserFromContext extracts the authenticated user from the request context.
func UserFromContext(ctx context.Context) *domain.User {
	if u, ok := ctx.Value(userKey).(*domain.User); ok {
		return u
	}
	return nil
}

// WithUser returns a context carrying the authenticated user. Exposed for
// handler tests.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// Authenticate resolves a request token to a stored user record.
func Authenticate(ctx context.Context, tokens *TokenService, repo store.Repository, tokenStr string) (*domain.User, error) {
	email, err := tokens.Verify(tokenStr)
	if err != nil {
		return nil, err
	}

	user, err := repo.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Middleware rejects requests without a valid bearer token and injects
// the resolved user into the request context.
func Middleware(tokens *TokenService, repo store.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := Authenticate(r.Context(), tokens, repo, TokenFromRequest(r))
			if errors.Is(err, ErrUnauthenticated) {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if err != nil {
				http.Error(w, `{"error":"authentication lookup failed"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
