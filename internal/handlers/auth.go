package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	Logout(ctx context.Context, claims *auth.SessionClaims, sourceAddr string) error
	Register(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error)
}

// CSRFIssuer mints anti-forgery tokens bound to a session
type CSRFIssuer interface {
	Issue(ctx context.Context, sessionID string) (string, error)
	MaxAge() time.Duration
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	sessions *auth.SessionManager
	csrf     CSRFIssuer
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	service AuthServiceInterface,
	sessions *auth.SessionManager,
	csrf CSRFIssuer,
	cookies auth.CookieConfig,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		csrf:     csrf,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code,omitempty" validate:"omitempty,len=6,numeric"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// CSRFTokenResponse carries a freshly minted anti-forgery token
type CSRFTokenResponse struct {
	CSRFToken string `json:"csrf_token"`
	ExpiresIn int    `json:"expires_in"`
}

// LoginResponse is returned on a successful login. The session itself travels
// in the httpOnly cookie; the CSRF token is bound to the new session.
type LoginResponse struct {
	User      *services.UserResponse `json:"user"`
	CSRFToken string                 `json:"csrf_token"`
}

const registrationAccepted = "Registration received. If the email is not already registered, you can now sign in."

// CSRFToken handles GET /auth/csrf-token. A visitor without a session gets an
// anonymous one so login and registration forms can be protected too.
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		token, anon, err := h.sessions.IssueAnonymous()
		if err != nil {
			h.logger.Error("failed to issue anonymous session", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "internal server error")
			return
		}
		auth.SetSessionCookie(w, token, h.sessions.Expiry(), h.cookies)
		claims = anon
	}

	csrfToken, ok := h.issueCSRF(w, r, claims.SessionID)
	if !ok {
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, CSRFTokenResponse{
		CSRFToken: csrfToken,
		ExpiresIn: int(h.csrf.MaxAge().Seconds()),
	})
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		TOTPCode:   req.TOTPCode,
		SourceAddr: pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		if errors.Is(err, models.ErrTOTPRequired) {
			pkghttp.WriteError(w, http.StatusUnauthorized, "totp_required", "one-time code required")
			return
		}
		writeServiceError(w, err)
		return
	}

	// Rotate: the pre-login session and its CSRF tokens die with the old cookie
	auth.SetSessionCookie(w, result.Token, h.sessions.Expiry(), h.cookies)
	csrfToken, ok := h.issueCSRF(w, r, result.Claims.SessionID)
	if !ok {
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		User:      result.User,
		CSRFToken: csrfToken,
	})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Logout(r.Context(), claims, pkghttp.ExtractClientIP(r, h.ipConfig)); err != nil {
		writeServiceError(w, err)
		return
	}

	auth.ClearSessionCookie(w, h.cookies)
	auth.ClearCSRFTokenCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// Register handles POST /auth/register. Existing accounts get the same answer
// as new ones so the endpoint cannot be used to probe for emails.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		SourceAddr: pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil && !errors.Is(err, models.ErrConflict) {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": registrationAccepted,
	})
}

func (h *AuthHandler) issueCSRF(w http.ResponseWriter, r *http.Request, sessionID string) (string, bool) {
	token, err := h.csrf.Issue(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to issue csrf token", slog.Any("error", err))
		writeServiceError(w, err)
		return "", false
	}
	auth.SetCSRFTokenCookie(w, token, h.csrf.MaxAge(), h.cookies)
	return token, true
}
