package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
)

// AttemptRepository persists limiter records for one namespace
type AttemptRepository interface {
	Get(ctx context.Context, identity string) (*models.AttemptRecord, error)
	Put(ctx context.Context, rec *models.AttemptRecord) error
	Delete(ctx context.Context, identity string) error
	List(ctx context.Context) ([]*models.AttemptRecord, error)
}

// SecurityEventRecorder receives security events from the services
type SecurityEventRecorder interface {
	Record(ctx context.Context, event models.SecurityEvent)
}

// LimiterPolicy configures one limiter namespace
type LimiterPolicy struct {
	Threshold    int
	Schedule     []time.Duration
	IdleTTL      time.Duration
	FastPathSize int
}

// AbuseLimiter tracks consecutive failures per identity and blocks with an
// escalating schedule once the threshold is reached. Any success resets it.
type AbuseLimiter struct {
	namespace string
	repo      AttemptRepository
	policy    LimiterPolicy
	blocked   *lru.Cache[string, time.Time]
	locks     *store.KeyedMutex
	events    SecurityEventRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewAbuseLimiter creates a limiter for a namespace
func NewAbuseLimiter(namespace string, repo AttemptRepository, policy LimiterPolicy, events SecurityEventRecorder, logger *slog.Logger) (*AbuseLimiter, error) {
	if policy.Threshold < 1 {
		return nil, fmt.Errorf("limiter %s: threshold must be at least 1", namespace)
	}
	if len(policy.Schedule) == 0 {
		return nil, fmt.Errorf("limiter %s: empty lockout schedule", namespace)
	}
	size := policy.FastPathSize
	if size <= 0 {
		size = 10000
	}
	blocked, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("limiter %s: %w", namespace, err)
	}

	return &AbuseLimiter{
		namespace: namespace,
		repo:      repo,
		policy:    policy,
		blocked:   blocked,
		locks:     store.NewKeyedMutex(),
		events:    events,
		logger:    logger.With(slog.String("limiter", namespace)),
		now:       time.Now,
	}, nil
}

// WithClock replaces the time source (tests).
func (l *AbuseLimiter) WithClock(now func() time.Time) *AbuseLimiter {
	l.now = now
	return l
}

// Namespace returns the limiter's namespace
func (l *AbuseLimiter) Namespace() string {
	return l.namespace
}

// BlockDuration returns the block applied after the given consecutive failure count
func (l *AbuseLimiter) BlockDuration(count int) time.Duration {
	if count < l.policy.Threshold {
		return 0
	}
	idx := count - l.policy.Threshold
	if idx >= len(l.policy.Schedule) {
		idx = len(l.policy.Schedule) - 1
	}
	return l.policy.Schedule[idx]
}

// IsBlocked reports whether identity may attempt now. The persisted record
// decides, so a lockout cleared by another process is honored at once. The
// local set of blocked identities only answers when the store cannot.
func (l *AbuseLimiter) IsBlocked(ctx context.Context, identity string) (models.BlockStatus, error) {
	now := l.now()

	cachedUntil, cached := l.blocked.Get(identity)
	if cached && !now.Before(cachedUntil) {
		l.blocked.Remove(identity)
		l.updateGauge()
		cached = false
	}

	rec, err := l.repo.Get(ctx, identity)
	switch {
	case store.IsNotFound(err):
		rec = nil
	case err != nil:
		if cached {
			return blockStatus(now, cachedUntil), nil
		}
		return models.BlockStatus{}, err
	}

	if rec == nil || !rec.IsBlockedAt(now) {
		if cached {
			l.blocked.Remove(identity)
			l.updateGauge()
		}
		return models.BlockStatus{}, nil
	}

	l.blocked.Add(identity, *rec.BlockedUntil)
	l.updateGauge()
	return blockStatus(now, *rec.BlockedUntil), nil
}

// Check returns a *models.RateLimitError when identity is blocked
func (l *AbuseLimiter) Check(ctx context.Context, identity string) error {
	status, err := l.IsBlocked(ctx, identity)
	if err != nil {
		return err
	}
	if status.Blocked {
		return &models.RateLimitError{RetryAfter: status.RetryAfter}
	}
	return nil
}

// RecordOutcome updates the identity's record after an attempt
func (l *AbuseLimiter) RecordOutcome(ctx context.Context, identity string, success bool) error {
	unlock := l.locks.Lock(identity)
	defer unlock()

	if success {
		if err := l.repo.Delete(ctx, identity); err != nil {
			return err
		}
		l.blocked.Remove(identity)
		l.updateGauge()
		return nil
	}

	now := l.now()
	rec, err := l.repo.Get(ctx, identity)
	if store.IsNotFound(err) {
		rec = &models.AttemptRecord{Key: identity, Namespace: l.namespace}
	} else if err != nil {
		return err
	}

	rec.Count++
	rec.LastAttemptAt = now

	d := l.BlockDuration(rec.Count)
	if d > 0 {
		until := now.Add(d)
		rec.BlockedUntil = &until
	}

	if err := l.repo.Put(ctx, rec); err != nil {
		return err
	}

	if d > 0 {
		l.blocked.Add(identity, *rec.BlockedUntil)
		l.updateGauge()
		l.events.Record(ctx, models.SecurityEvent{
			EventType:     models.EventLockoutTriggered,
			SourceAddress: identity,
			Severity:      models.SeverityHigh,
			Details: models.EventDetails{
				"namespace":     l.namespace,
				"failure_count": rec.Count,
				"blocked_until": rec.BlockedUntil.UTC(),
			},
		})
	}
	return nil
}

// PurgeIdle deletes records idle longer than IdleTTL that are not blocked
func (l *AbuseLimiter) PurgeIdle(ctx context.Context) (int, error) {
	if l.policy.IdleTTL <= 0 {
		return 0, nil
	}
	records, err := l.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, rec := range records {
		ok, err := l.purgeIfIdle(ctx, rec.Key)
		if err != nil {
			return purged, err
		}
		if ok {
			purged++
		}
	}
	return purged, nil
}

func (l *AbuseLimiter) purgeIfIdle(ctx context.Context, identity string) (bool, error) {
	unlock := l.locks.Lock(identity)
	defer unlock()

	// Re-read under the lock; a failure may have landed since the scan
	rec, err := l.repo.Get(ctx, identity)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := l.now()
	if rec.IsBlockedAt(now) || now.Sub(rec.LastAttemptAt) <= l.policy.IdleTTL {
		return false, nil
	}
	if err := l.repo.Delete(ctx, identity); err != nil {
		return false, err
	}
	l.blocked.Remove(identity)
	return true, nil
}

// Refresh rebuilds the fast-path set from the store
func (l *AbuseLimiter) Refresh(ctx context.Context) (int, error) {
	records, err := l.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	now := l.now()
	l.blocked.Purge()
	for _, rec := range records {
		if rec.IsBlockedAt(now) {
			l.blocked.Add(rec.Key, *rec.BlockedUntil)
		}
	}
	l.updateGauge()
	return l.blocked.Len(), nil
}

// List returns every record in the namespace
func (l *AbuseLimiter) List(ctx context.Context) ([]*models.AttemptRecord, error) {
	return l.repo.List(ctx)
}

// Clear removes an identity's record. Returns false when there was none.
func (l *AbuseLimiter) Clear(ctx context.Context, identity, actorID string) (bool, error) {
	unlock := l.locks.Lock(identity)
	defer unlock()

	rec, err := l.repo.Get(ctx, identity)
	if store.IsNotFound(err) {
		l.blocked.Remove(identity)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := l.repo.Delete(ctx, identity); err != nil {
		return false, err
	}
	l.blocked.Remove(identity)
	l.updateGauge()

	l.events.Record(ctx, models.SecurityEvent{
		EventType:     models.EventLockoutCleared,
		ActorID:       actorID,
		SourceAddress: identity,
		Severity:      models.SeverityMedium,
		Details: models.EventDetails{
			"namespace":     l.namespace,
			"failure_count": rec.Count,
		},
	})
	return true, nil
}

func (l *AbuseLimiter) updateGauge() {
	metrics.LockoutsActive.WithLabelValues(l.namespace).Set(float64(l.blocked.Len()))
}

func blockStatus(now, until time.Time) models.BlockStatus {
	return models.BlockStatus{
		Blocked:    true,
		RetryAfter: until.Sub(now),
		Until:      until,
	}
}

// AbuseLimiters groups the per-namespace limiters
type AbuseLimiters struct {
	Login         *AbuseLimiter
	PasswordReset *AbuseLimiter
	Registration  *AbuseLimiter
}

// ByNamespace returns the limiter for a namespace, or nil
func (a *AbuseLimiters) ByNamespace(namespace string) *AbuseLimiter {
	switch namespace {
	case models.AbuseNamespaceLogin:
		return a.Login
	case models.AbuseNamespacePasswordReset:
		return a.PasswordReset
	case models.AbuseNamespaceRegistration:
		return a.Registration
	}
	return nil
}

// All returns every configured limiter
func (a *AbuseLimiters) All() []*AbuseLimiter {
	return []*AbuseLimiter{a.Login, a.PasswordReset, a.Registration}
}
