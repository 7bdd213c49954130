package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

const (
	// CSRFHeader carries the anti-forgery token on script-driven requests
	CSRFHeader = "X-CSRF-Token"
	// CSRFFormField carries it on HTML form posts
	CSRFFormField = "_csrf"
)

// CSRFValidator checks and consumes an anti-forgery token
type CSRFValidator interface {
	Validate(ctx context.Context, sessionID, token string) error
}

// CSRFProtection validates a single-use token on every state-changing request.
// Safe methods pass through, as do requests authenticated by API key.
// Must run after auth.SessionMiddleware.
func CSRFProtection(guard CSRFValidator, events auth.SecurityEventRecorder, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) || auth.GetAPIKeyFromContext(r) != nil {
				next.ServeHTTP(w, r)
				return
			}

			claims := auth.GetSessionFromContext(r)
			reject := func(reason string) {
				event := models.SecurityEvent{
					EventType:     models.EventCSRFViolation,
					SourceAddress: pkghttp.ExtractClientIP(r, ipConfig),
					Severity:      models.SeverityMedium,
					Details: models.EventDetails{
						"reason": reason,
						"method": r.Method,
						"path":   r.URL.Path,
					},
				}
				if claims != nil {
					event.ActorID = claims.UserID
				}
				events.Record(r.Context(), event)
				pkghttp.WriteForbidden(w, "request could not be verified, please try again")
			}

			if claims == nil || claims.SessionID == "" {
				reject("no_session")
				return
			}

			token := r.Header.Get(CSRFHeader)
			if token == "" {
				token = r.PostFormValue(CSRFFormField)
			}
			if token == "" {
				reject("missing_token")
				return
			}

			if err := guard.Validate(r.Context(), claims.SessionID, token); err != nil {
				if errors.Is(err, models.ErrStoreUnavailable) {
					logger.Error("csrf validation unavailable", slog.Any("error", err))
					pkghttp.WriteServiceUnavailable(w, "please try again later")
					return
				}
				reject(csrfRejectionReason(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func csrfRejectionReason(err error) string {
	switch {
	case errors.Is(err, models.ErrAlreadyUsedToken):
		return "already_used"
	case errors.Is(err, models.ErrExpiredToken):
		return "expired"
	default:
		return "invalid"
	}
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
