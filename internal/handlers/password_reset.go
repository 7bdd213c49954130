package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// PasswordResetServiceInterface defines the reset flow the handlers drive
type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email, sourceAddr string) error
	CheckToken(ctx context.Context, token, sourceAddr string) (*models.ResetSubject, error)
	CompleteReset(ctx context.Context, token, newPassword, sourceAddr string) error
}

// PasswordResetHandler handles the forgot/reset password endpoints
type PasswordResetHandler struct {
	service  PasswordResetServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewPasswordResetHandler creates a new PasswordResetHandler
func NewPasswordResetHandler(service PasswordResetServiceInterface, ipConfig *pkghttp.IPConfig) *PasswordResetHandler {
	return &PasswordResetHandler{service: service, ipConfig: ipConfig}
}

// ForgotPasswordRequest represents the request body for POST /auth/password/forgot
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for POST /auth/password/reset
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=256"`
	NewPassword string `json:"new_password" validate:"required"`
}

// ResetTokenStatusResponse tells the reset form which account it is for
type ResetTokenStatusResponse struct {
	Valid bool   `json:"valid"`
	Email string `json:"email"`
}

const forgotPasswordAccepted = "If an account exists with this email, a password reset link has been sent."

// Forgot handles POST /auth/password/forgot. The answer is identical whether or
// not the account exists.
func (h *PasswordResetHandler) Forgot(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.RequestReset(r.Context(), req.Email, pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": forgotPasswordAccepted,
	})
}

// CheckToken handles GET /auth/password/reset/{token}
func (h *PasswordResetHandler) CheckToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		pkghttp.WriteBadRequest(w, genericTokenMessage)
		return
	}

	subject, err := h.service.CheckToken(r.Context(), token, pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ResetTokenStatusResponse{
		Valid: true,
		Email: subject.Email,
	})
}

// Reset handles POST /auth/password/reset
func (h *PasswordResetHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.CompleteReset(r.Context(), req.Token, req.NewPassword, pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Password has been reset. Please sign in with your new password.",
	})
}
