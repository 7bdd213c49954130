package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/store"
	"github.com/google/uuid"
)

const maxAPIKeyNameLen = 100

// APIKeyPolicy bounds key lifetimes
type APIKeyPolicy struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// APIKeyService handles API key business logic
type APIKeyService struct {
	repo       repositories.APIKeyRepository
	keyManager *auth.APIKeyManager
	policy     APIKeyPolicy
	locks      *store.KeyedMutex
	events     SecurityEventRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewAPIKeyService creates a new APIKeyService
func NewAPIKeyService(repo repositories.APIKeyRepository, keyManager *auth.APIKeyManager, policy APIKeyPolicy, events SecurityEventRecorder, logger *slog.Logger) *APIKeyService {
	return &APIKeyService{
		repo:       repo,
		keyManager: keyManager,
		policy:     policy,
		locks:      store.NewKeyedMutex(),
		events:     events,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the time source (tests).
func (s *APIKeyService) WithClock(now func() time.Time) *APIKeyService {
	s.now = now
	return s
}

// Create generates a new API key. The plaintext is returned here and nowhere else.
func (s *APIKeyService) Create(ctx context.Context, input models.CreateAPIKeyInput) (*models.GeneratedAPIKey, error) {
	name := strings.TrimSpace(input.Name)
	if input.OwnerID == "" || name == "" || len(name) > maxAPIKeyNameLen {
		return nil, models.ErrBadRequest
	}
	if err := models.ValidatePermissions(input.Permissions); err != nil {
		return nil, err
	}
	for _, p := range input.Permissions {
		if !models.CanRoleGrantPermission(input.OwnerRole, p) {
			return nil, fmt.Errorf("permission %q: %w", p, models.ErrPermissionDenied)
		}
	}

	ttl := input.TTL
	if ttl == 0 {
		ttl = s.policy.DefaultTTL
	}
	if ttl < 0 || (s.policy.MaxTTL > 0 && ttl > s.policy.MaxTTL) {
		return nil, models.ErrBadRequest
	}

	plainKey, keyHash, err := s.keyManager.Generate()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate api key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	keyPrefix := s.keyManager.DisplayPrefix(plainKey)

	now := s.now()
	apiKey := &models.APIKey{
		ID:          uuid.New().String(),
		Name:        name,
		KeyHash:     keyHash,
		KeyPrefix:   keyPrefix,
		OwnerID:     input.OwnerID,
		Permissions: append([]string(nil), input.Permissions...),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		IsActive:    true,
	}

	if err := s.repo.Create(ctx, apiKey); err != nil {
		s.logger.ErrorContext(ctx, "failed to create api key", slog.Any("error", err))
		return nil, err
	}

	s.events.Record(ctx, models.SecurityEvent{
		EventType: models.EventAPIKeyCreated,
		ActorID:   input.OwnerID,
		Severity:  models.SeverityLow,
		Details: models.EventDetails{
			"key_id":      apiKey.ID,
			"key_prefix":  keyPrefix,
			"permissions": apiKey.Permissions,
			"expires_at":  apiKey.ExpiresAt.UTC(),
		},
	})

	return &models.GeneratedAPIKey{
		PlainKey: plainKey,
		APIKey:   apiKey,
	}, nil
}

// Validate resolves a presented key. Checks run in order: existence, active flag,
// expiry. A successful validation is metered on the stored record.
func (s *APIKeyService) Validate(ctx context.Context, presented string) (*models.APIKey, error) {
	keyHash, err := s.keyManager.Hash(presented)
	if err != nil {
		metrics.APIKeyValidations.WithLabelValues("not_found").Inc()
		return nil, models.ErrInvalidToken
	}

	apiKey, err := s.repo.GetByHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			metrics.APIKeyValidations.WithLabelValues("not_found").Inc()
			return nil, models.ErrInvalidToken
		}
		return nil, err
	}

	if err := s.checkUsable(apiKey); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(apiKey.ID)
	defer unlock()

	// Re-read the stored copy under the lock: metering writes the whole record
	// back, so it must start from the latest revocation state.
	current, err := s.repo.LoadByID(ctx, apiKey.ID)
	if errors.Is(err, models.ErrNotFound) {
		metrics.APIKeyValidations.WithLabelValues("not_found").Inc()
		return nil, models.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkUsable(current); err != nil {
		return nil, err
	}

	now := s.now()
	current.UsageCount++
	current.LastUsedAt = &now
	if err := s.repo.Update(ctx, current); err != nil {
		return nil, err
	}

	metrics.APIKeyValidations.WithLabelValues("ok").Inc()
	return current, nil
}

func (s *APIKeyService) checkUsable(k *models.APIKey) error {
	if !k.IsActive {
		if k.RevokedAt != nil {
			metrics.APIKeyValidations.WithLabelValues("revoked").Inc()
			return models.ErrRevokedKey
		}
		metrics.APIKeyValidations.WithLabelValues("expired").Inc()
		return models.ErrExpiredToken
	}
	if k.IsExpiredAt(s.now()) {
		metrics.APIKeyValidations.WithLabelValues("expired").Inc()
		return models.ErrExpiredToken
	}
	return nil
}

// HasPermission reports whether the key holds every required permission
func (s *APIKeyService) HasPermission(key *models.APIKey, required ...string) bool {
	return key != nil && models.HasPermissions(key.Permissions, required...)
}

// Get retrieves a key visible to the actor (owner or admin)
func (s *APIKeyService) Get(ctx context.Context, id, actorID, actorRole string) (*models.APIKey, error) {
	if id == "" {
		return nil, models.ErrBadRequest
	}
	apiKey, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if apiKey.OwnerID != actorID && actorRole != models.RoleAdmin {
		// Hide the key's existence from other users
		return nil, models.ErrNotFound
	}
	return apiKey, nil
}

// List returns the owner's keys, active and inactive
func (s *APIKeyService) List(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	if ownerID == "" {
		return nil, models.ErrBadRequest
	}
	return s.repo.ListByOwner(ctx, ownerID)
}

// ListAll returns every key (admin view)
func (s *APIKeyService) ListAll(ctx context.Context) ([]*models.APIKey, error) {
	return s.repo.ListAll(ctx)
}

// Revoke deactivates a key. Only its owner or an admin may revoke it.
// Returns false when the key was already inactive.
func (s *APIKeyService) Revoke(ctx context.Context, id, actorID, actorRole string) (bool, error) {
	if id == "" || actorID == "" {
		return false, models.ErrBadRequest
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	apiKey, err := s.repo.LoadByID(ctx, id)
	if err != nil {
		return false, err
	}
	if apiKey.OwnerID != actorID && actorRole != models.RoleAdmin {
		return false, models.ErrPermissionDenied
	}
	if !apiKey.IsActive {
		return false, nil
	}

	now := s.now()
	apiKey.IsActive = false
	apiKey.RevokedAt = &now
	apiKey.RevokedBy = &actorID
	if err := s.repo.Update(ctx, apiKey); err != nil {
		return false, err
	}

	s.events.Record(ctx, models.SecurityEvent{
		EventType: models.EventAPIKeyRevoked,
		ActorID:   actorID,
		Severity:  models.SeverityMedium,
		Details: models.EventDetails{
			"key_id":     apiKey.ID,
			"key_prefix": apiKey.KeyPrefix,
			"owner_id":   apiKey.OwnerID,
		},
	})
	return true, nil
}

// CleanupExpired deactivates active keys whose expiry has passed.
// Running it again changes nothing.
func (s *APIKeyService) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := s.repo.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	deactivated := 0
	for _, k := range keys {
		if !k.IsActive || !k.IsExpiredAt(now) {
			continue
		}
		ok, err := s.expire(ctx, k.ID)
		if err != nil {
			return deactivated, fmt.Errorf("cleanup failed: %w", err)
		}
		if ok {
			deactivated++
		}
	}

	if deactivated > 0 {
		s.logger.InfoContext(ctx, "deactivated expired api keys", slog.Int("count", deactivated))
	}
	return deactivated, nil
}

func (s *APIKeyService) expire(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	apiKey, err := s.repo.LoadByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !apiKey.IsActive || !apiKey.IsExpiredAt(s.now()) {
		return false, nil
	}
	apiKey.IsActive = false
	if err := s.repo.Update(ctx, apiKey); err != nil {
		return false, err
	}

	s.events.Record(ctx, models.SecurityEvent{
		EventType: models.EventAPIKeyExpired,
		ActorID:   apiKey.OwnerID,
		Severity:  models.SeverityLow,
		Details: models.EventDetails{
			"key_id":     apiKey.ID,
			"key_prefix": apiKey.KeyPrefix,
		},
	})
	return true, nil
}
