package handlers

import (
	"errors"
	"net/http"

	"github.com/BradenHooton/bastion/internal/models"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// genericTokenMessage is the only thing a client learns about a rejected token
const genericTokenMessage = "invalid or expired token"

// writeServiceError maps service sentinels to HTTP responses. Token failures
// collapse into one message; store outages fail closed with 503.
func writeServiceError(w http.ResponseWriter, err error) {
	var rle *models.RateLimitError
	var pve *pkgauth.PasswordValidationError

	switch {
	case errors.As(err, &rle):
		pkghttp.WriteRateLimited(w, "too many attempts, please try again later", rle.RetryAfterSeconds())
	case errors.Is(err, models.ErrStoreUnavailable):
		pkghttp.WriteServiceUnavailable(w, "please try again later")
	case errors.Is(err, models.ErrInvalidToken),
		errors.Is(err, models.ErrExpiredToken),
		errors.Is(err, models.ErrAlreadyUsedToken):
		pkghttp.WriteBadRequest(w, genericTokenMessage)
	case errors.As(err, &pve):
		pkghttp.WriteBadRequest(w, "password does not meet requirements")
	case errors.Is(err, models.ErrUnauthenticated):
		pkghttp.WriteUnauthorized(w, "authentication failed")
	case errors.Is(err, models.ErrPermissionDenied):
		pkghttp.WriteForbidden(w, "insufficient permissions")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "resource already exists")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "invalid request")
	default:
		pkghttp.WriteInternalError(w, "internal server error")
	}
}
