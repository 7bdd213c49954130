package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// APIKeyServiceInterface defines the interface for API key operations
type APIKeyServiceInterface interface {
	Create(ctx context.Context, input models.CreateAPIKeyInput) (*models.GeneratedAPIKey, error)
	Get(ctx context.Context, id, actorID, actorRole string) (*models.APIKey, error)
	List(ctx context.Context, ownerID string) ([]*models.APIKey, error)
	Revoke(ctx context.Context, id, actorID, actorRole string) (bool, error)
}

// UserLookup resolves the caller's current account record
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// APIKeyHandler handles API key HTTP requests
type APIKeyHandler struct {
	service APIKeyServiceInterface
	users   UserLookup
	now     func() time.Time
}

// NewAPIKeyHandler creates a new APIKeyHandler
func NewAPIKeyHandler(service APIKeyServiceInterface, users UserLookup) *APIKeyHandler {
	return &APIKeyHandler{
		service: service,
		users:   users,
		now:     time.Now,
	}
}

// Request DTOs

// CreateAPIKeyRequest represents the request to create an API key
type CreateAPIKeyRequest struct {
	Name        string   `json:"name" validate:"required,min=1,max=100"`
	Permissions []string `json:"permissions" validate:"required,min=1,max=20,dive,required,permission"`
	ExpiresAt   *string  `json:"expires_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"` // RFC3339 format
}

// APIKeyDTO is the response DTO for API keys (never includes plaintext or hash)
type APIKeyDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	KeyPrefix   string     `json:"key_prefix"`
	OwnerID     string     `json:"owner_id"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	UsageCount  uint64     `json:"usage_count"`
	IsActive    bool       `json:"is_active"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// CreateAPIKeyResponse is the only response that ever carries the plaintext key
type CreateAPIKeyResponse struct {
	Key     string     `json:"key"`
	Message string     `json:"message"`
	APIKey  *APIKeyDTO `json:"api_key"`
}

// ListAPIKeysResponse represents the response for listing API keys
type ListAPIKeysResponse struct {
	Keys  []*APIKeyDTO `json:"keys"`
	Total int          `json:"total"`
}

// RevokeAPIKeyResponse reports whether this call changed the key
type RevokeAPIKeyResponse struct {
	Revoked bool   `json:"revoked"`
	Message string `json:"message"`
}

// WhoAmIResponse describes the key that authenticated a machine request
type WhoAmIResponse struct {
	KeyID       string    `json:"key_id"`
	KeyPrefix   string    `json:"key_prefix"`
	OwnerID     string    `json:"owner_id"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Handlers

// CreateAPIKey POST /api-keys
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if !claims.IsAuthenticated() {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// The grantable permissions follow the stored role, not the one in the cookie
	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		writeServiceError(w, err)
		return
	}

	var ttl time.Duration
	if req.ExpiresAt != nil {
		expiresAt, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			pkghttp.WriteBadRequest(w, "invalid expires_at format (use RFC3339)")
			return
		}
		ttl = expiresAt.Sub(h.now())
		if ttl <= 0 {
			pkghttp.WriteBadRequest(w, "expires_at must be in the future")
			return
		}
	}

	generated, err := h.service.Create(r.Context(), models.CreateAPIKeyInput{
		Name:        req.Name,
		OwnerID:     user.ID,
		OwnerRole:   user.Role,
		Permissions: req.Permissions,
		TTL:         ttl,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, CreateAPIKeyResponse{
		Key:     generated.PlainKey,
		Message: "Save this API key - it will not be shown again",
		APIKey:  toAPIKeyDTO(generated.APIKey),
	})
}

// ListAPIKeys GET /api-keys
func (h *APIKeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if !claims.IsAuthenticated() {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	keys, err := h.service.List(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toListResponse(keys))
}

// GetAPIKey GET /api-keys/{id}
func (h *APIKeyHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if !claims.IsAuthenticated() {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		pkghttp.WriteBadRequest(w, "invalid key id")
		return
	}

	key, err := h.service.Get(r.Context(), keyID, claims.UserID, claims.Role)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "api key not found")
			return
		}
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toAPIKeyDTO(key))
}

// RevokeAPIKey DELETE /api-keys/{id}
func (h *APIKeyHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if !claims.IsAuthenticated() {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		pkghttp.WriteBadRequest(w, "invalid key id")
		return
	}

	h.revoke(w, r, keyID, claims.UserID, claims.Role)
}

func (h *APIKeyHandler) revoke(w http.ResponseWriter, r *http.Request, keyID, actorID, actorRole string) {
	revoked, err := h.service.Revoke(r.Context(), keyID, actorID, actorRole)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "api key not found")
			return
		}
		if errors.Is(err, models.ErrPermissionDenied) {
			pkghttp.WriteForbidden(w, "cannot revoke this api key")
			return
		}
		writeServiceError(w, err)
		return
	}

	message := "api key revoked"
	if !revoked {
		message = "api key already inactive"
	}
	pkghttp.WriteJSON(w, http.StatusOK, RevokeAPIKeyResponse{
		Revoked: revoked,
		Message: message,
	})
}

// WhoAmI GET /api/v1/whoami (API key authenticated)
func (h *APIKeyHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	key := auth.GetAPIKeyFromContext(r)
	if key == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, WhoAmIResponse{
		KeyID:       key.ID,
		KeyPrefix:   key.KeyPrefix,
		OwnerID:     key.OwnerID,
		Permissions: key.Permissions,
		ExpiresAt:   key.ExpiresAt,
	})
}

// Helpers

// toAPIKeyDTO converts an APIKey model to a response DTO (never includes plaintext)
func toAPIKeyDTO(key *models.APIKey) *APIKeyDTO {
	if key == nil {
		return nil
	}
	return &APIKeyDTO{
		ID:          key.ID,
		Name:        key.Name,
		KeyPrefix:   key.KeyPrefix,
		OwnerID:     key.OwnerID,
		Permissions: key.Permissions,
		CreatedAt:   key.CreatedAt,
		ExpiresAt:   key.ExpiresAt,
		LastUsedAt:  key.LastUsedAt,
		UsageCount:  key.UsageCount,
		IsActive:    key.IsActive,
		RevokedAt:   key.RevokedAt,
	}
}

func toListResponse(keys []*models.APIKey) ListAPIKeysResponse {
	dtos := make([]*APIKeyDTO, len(keys))
	for i, key := range keys {
		dtos[i] = toAPIKeyDTO(key)
	}
	return ListAPIKeysResponse{Keys: dtos, Total: len(dtos)}
}
