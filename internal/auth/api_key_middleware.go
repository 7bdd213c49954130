package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// APIKeyHeader carries the plaintext API key on machine requests
const APIKeyHeader = "X-API-Key"

// APIKeyValidator validates a presented API key
type APIKeyValidator interface {
	Validate(ctx context.Context, presented string) (*models.APIKey, error)
}

// SecurityEventRecorder receives security events from the HTTP layer
type SecurityEventRecorder interface {
	Record(ctx context.Context, event models.SecurityEvent)
}

// APIKeyMiddleware authenticates requests by X-API-Key. Every rejection looks the
// same to the caller (generic 401); the precise reason goes to the event sink.
func APIKeyMiddleware(validator APIKeyValidator, events SecurityEventRecorder, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(APIKeyHeader)
			if presented == "" {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			key, err := validator.Validate(r.Context(), presented)
			if err != nil {
				if errors.Is(err, models.ErrStoreUnavailable) {
					logger.Error("api key validation unavailable", slog.Any("error", err))
					pkghttp.WriteServiceUnavailable(w, "please try again later")
					return
				}

				events.Record(r.Context(), models.SecurityEvent{
					EventType:     models.EventAPIKeyRejected,
					SourceAddress: pkghttp.ExtractClientIP(r, ipConfig),
					Severity:      models.SeverityMedium,
					Details: models.EventDetails{
						"reason": rejectionReason(err),
						"path":   r.URL.Path,
					},
				})
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermissions denies API-key requests whose key lacks any of the
// required permissions. Must run after APIKeyMiddleware.
func RequirePermissions(events SecurityEventRecorder, ipConfig *pkghttp.IPConfig, required ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetAPIKeyFromContext(r)
			if key == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			if !models.HasPermissions(key.Permissions, required...) {
				events.Record(r.Context(), models.SecurityEvent{
					EventType:     models.EventPermissionDenied,
					ActorID:       key.OwnerID,
					SourceAddress: pkghttp.ExtractClientIP(r, ipConfig),
					Severity:      models.SeverityMedium,
					Details: models.EventDetails{
						"key_id":   key.ID,
						"required": required,
						"path":     r.URL.Path,
					},
				})
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetAPIKeyFromContext returns the key that authenticated the request, if any
func GetAPIKeyFromContext(r *http.Request) *models.APIKey {
	key, ok := r.Context().Value(APIKeyContextKey).(*models.APIKey)
	if !ok {
		return nil
	}
	return key
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, models.ErrRevokedKey):
		return "revoked"
	case errors.Is(err, models.ErrExpiredToken):
		return "expired"
	case errors.Is(err, models.ErrInvalidToken):
		return "not_found"
	default:
		return "error"
	}
}
