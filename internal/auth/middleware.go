package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing session claims in context
	SessionContextKey contextKey = "session"
	// APIKeyContextKey is the key for storing the validated API key in context
	APIKeyContextKey contextKey = "api_key"
)

// SessionRevocationChecker reports whether a session was ended by logout
type SessionRevocationChecker interface {
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// SessionMiddleware attaches the session carried by the session cookie, if any.
// It never rejects on its own; RequireSession and the CSRF middleware decide.
// Revocation lookups fail closed: a store outage answers 503.
func SessionMiddleware(sm *SessionManager, revocations SessionRevocationChecker, cookies CookieConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := GetSessionCookie(r)
			if err != nil || raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := sm.Validate(raw)
			if err != nil {
				ClearSessionCookie(w, cookies)
				next.ServeHTTP(w, r)
				return
			}

			if revocations != nil {
				revoked, err := revocations.IsRevoked(r.Context(), claims.SessionID)
				if err != nil {
					logger.Error("session revocation check failed", slog.Any("error", err))
					pkghttp.WriteServiceUnavailable(w, "unable to verify session")
					return
				}
				if revoked {
					ClearSessionCookie(w, cookies)
					next.ServeHTTP(w, r)
					return
				}
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects requests without an authenticated user session
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetSessionFromContext(r).IsAuthenticated() {
			pkghttp.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole creates a middleware that enforces role-based access control.
// The role is re-read from the user record so demotions apply immediately.
func RequireRole(userRepo UserRepository, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetSessionFromContext(r)
			if !claims.IsAuthenticated() {
				pkghttp.WriteUnauthorized(w, "authentication required")
				return
			}

			user, err := userRepo.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "authentication required")
					return
				}
				if errors.Is(err, models.ErrStoreUnavailable) {
					pkghttp.WriteServiceUnavailable(w, "please try again later")
					return
				}
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}

			if user.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetSessionFromContext extracts session claims from request context
func GetSessionFromContext(r *http.Request) *SessionClaims {
	claims, ok := r.Context().Value(SessionContextKey).(*SessionClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithSession returns a context carrying the given session (tests and handlers
// that rotate the session mid-request).
func WithSession(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, SessionContextKey, claims)
}

// UserRepository interface for fetching user data
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}
