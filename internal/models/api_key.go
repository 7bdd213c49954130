package models

import (
	"time"
)

// APIKey is the stored metadata for a long-lived API credential.
// Keys are never hard-deleted; revocation and expiry flip IsActive.
type APIKey struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	KeyHash     string     `json:"-"` // Never exposed
	KeyPrefix   string     `json:"key_prefix"`
	OwnerID     string     `json:"owner_id"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	UsageCount  uint64     `json:"usage_count"`
	IsActive    bool       `json:"is_active"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	RevokedBy   *string    `json:"revoked_by,omitempty"`
}

// IsExpiredAt reports whether the key's expiry has passed at the given instant.
func (k *APIKey) IsExpiredAt(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// GeneratedAPIKey represents the response when creating a new API key (includes plaintext)
type GeneratedAPIKey struct {
	PlainKey string  `json:"key"` // Shown ONLY once at creation
	APIKey   *APIKey `json:"api_key"`
}

// CreateAPIKeyInput holds the caller-supplied fields for a new key.
type CreateAPIKeyInput struct {
	Name        string
	OwnerID     string
	OwnerRole   string
	Permissions []string
	TTL         time.Duration
}
