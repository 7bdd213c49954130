package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/store"
)

const revokedSessionPrefix = "session_revoked:"

type revokedSession struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionRevocationRepository records sessions ended by logout until their
// natural expiry, so a copied cookie stops working immediately.
type SessionRevocationRepository struct {
	store store.Store
	now   func() time.Time
}

func NewSessionRevocationRepository(s store.Store) *SessionRevocationRepository {
	return &SessionRevocationRepository{store: s, now: time.Now}
}

// WithClock replaces the time source (tests).
func (r *SessionRevocationRepository) WithClock(now func() time.Time) *SessionRevocationRepository {
	r.now = now
	return r
}

// Revoke adds a session to the revocation list
func (r *SessionRevocationRepository) Revoke(ctx context.Context, sessionID, userID string, expiresAt time.Time) error {
	return store.SetJSON(ctx, r.store, revokedSessionPrefix+sessionID, revokedSession{
		SessionID: sessionID,
		UserID:    userID,
		ExpiresAt: expiresAt,
	})
}

// IsRevoked checks if a session is on the revocation list
func (r *SessionRevocationRepository) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	_, err := r.store.Get(ctx, revokedSessionPrefix+sessionID)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CleanupExpired removes entries for sessions that would have expired anyway
func (r *SessionRevocationRepository) CleanupExpired(ctx context.Context) (int, error) {
	entries, err := r.store.Scan(ctx, revokedSessionPrefix)
	if err != nil {
		return 0, err
	}
	now := r.now()
	deleted := 0
	for _, e := range entries {
		var rec revokedSession
		if err := jsonUnmarshal(e.Value, &rec); err == nil && now.Before(rec.ExpiresAt) {
			continue
		}
		if err := r.store.Delete(ctx, e.Key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
