// ABOUTME: Request identity resolution and context plumbing
// ABOUTME: Maps the caller header to a verified user and injects it into the request context

package identity

import (
	"context"
	"errors"
	"net/http"

	"github.com/nexuschat/nexus/internal/store"
)

const (
	// UserHeaderName carries the caller's user ID on every authenticated request.
	UserHeaderName = "X-Nexus-User-ID"

	// UserQueryParam is the fallback for WebSocket upgrades, where browsers
	// cannot set custom headers.
	UserQueryParam = "userId"
)

type contextKey int

const (
	userIDKey contextKey = iota
	userKey
)

// UserResolver defines what the middleware needs from storage
type UserResolver interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UserFromContext extracts the authenticated user from the request context.
func UserFromContext(ctx context.Context) *store.User {
	if v, ok := ctx.Value(userKey).(*store.User); ok {
		return v
	}
	return nil
}

// WithUser returns a context carrying the given user. Exported for tests and
// for callers that run outside the HTTP stack.
func WithUser(ctx context.Context, user *store.User) context.Context {
	ctx = context.WithValue(ctx, userIDKey, user.ID)
	return context.WithValue(ctx, userKey, user)
}

// Middleware resolves the caller's identity header against the user store and
// injects the verified user into the request context. Requests without a valid
// identity are rejected with 401.
func Middleware(users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(UserHeaderName)
			if userID == "" {
				userID = r.URL.Query().Get(UserQueryParam)
			}
			if userID == "" {
				http.Error(w, `{"error":"missing identity header"}`, http.StatusUnauthorized)
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					http.Error(w, `{"error":"unknown user"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"error":"failed to resolve identity"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
