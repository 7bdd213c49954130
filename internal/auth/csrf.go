package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
)

const csrfKeyPrefix = "csrf:"

// CSRFGuard issues and validates single-use anti-forgery tokens bound to a session.
// Records live in the store keyed by token hash, so tokens survive restarts and
// are shared across instances.
type CSRFGuard struct {
	store  store.Store
	locks  *store.KeyedMutex
	maxAge time.Duration
	now    func() time.Time
}

// NewCSRFGuard creates a CSRF guard. maxAge bounds how long an issued token stays valid.
func NewCSRFGuard(s store.Store, maxAge time.Duration) *CSRFGuard {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &CSRFGuard{
		store:  s,
		locks:  store.NewKeyedMutex(),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// WithClock replaces the time source (tests).
func (g *CSRFGuard) WithClock(now func() time.Time) *CSRFGuard {
	g.now = now
	return g
}

// MaxAge returns the configured token lifetime.
func (g *CSRFGuard) MaxAge() time.Duration {
	return g.maxAge
}

// Issue creates a fresh token for the session. The record is durable before
// the token is returned.
func (g *CSRFGuard) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", models.ErrUnauthenticated
	}

	token, err := GenerateToken(TokenBytes)
	if err != nil {
		return "", err
	}

	now := g.now()
	rec := models.CSRFToken{
		TokenHash: HashToken(token),
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.maxAge),
	}
	if err := store.SetJSON(ctx, g.store, csrfKeyPrefix+rec.TokenHash, rec); err != nil {
		return "", fmt.Errorf("persist csrf token: %w", err)
	}
	return token, nil
}

// Validate consumes a token. A token validates at most once, only for the
// session it was issued to, and only within maxAge of issue.
func (g *CSRFGuard) Validate(ctx context.Context, sessionID, token string) error {
	if sessionID == "" || token == "" {
		return models.ErrInvalidToken
	}

	key := csrfKeyPrefix + HashToken(token)
	unlock := g.locks.Lock(key)
	defer unlock()

	rec, err := store.GetJSON[models.CSRFToken](ctx, g.store, key)
	if store.IsNotFound(err) {
		return models.ErrInvalidToken
	}
	if err != nil {
		return err
	}

	if !ConstantTimeEqual(rec.SessionID, sessionID) {
		return models.ErrInvalidToken
	}

	now := g.now()
	if now.Sub(rec.IssuedAt) > g.maxAge {
		return models.ErrExpiredToken
	}
	if rec.Used {
		return models.ErrAlreadyUsedToken
	}

	rec.Used = true
	rec.UsedAt = &now
	if err := store.SetJSON(ctx, g.store, key, rec); err != nil {
		return fmt.Errorf("mark csrf token used: %w", err)
	}
	return nil
}

// Sweep deletes every record older than maxAge, used or not.
func (g *CSRFGuard) Sweep(ctx context.Context) (int, error) {
	entries, err := g.store.Scan(ctx, csrfKeyPrefix)
	if err != nil {
		return 0, err
	}

	now := g.now()
	deleted := 0
	for _, e := range entries {
		rec, err := g.decode(e.Value)
		if err == nil && now.Sub(rec.IssuedAt) <= g.maxAge {
			continue
		}

		unlock := g.locks.Lock(e.Key)
		err = g.store.Delete(ctx, e.Key)
		unlock()
		if err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (g *CSRFGuard) decode(data []byte) (*models.CSRFToken, error) {
	var rec models.CSRFToken
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
