package services

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// DashboardStatsResponse contains aggregate security metrics.
type DashboardStatsResponse struct {
	ActiveLockouts  map[string]int `json:"active_lockouts"`
	TrackedSources  map[string]int `json:"tracked_sources"`
	ActiveAPIKeys   int            `json:"active_api_keys"`
	InactiveAPIKeys int            `json:"inactive_api_keys"`
	EventsLast24h   map[string]int `json:"events_last_24h"`
}

// ActivityEntry is a single item in a recent-activity feed.
type ActivityEntry struct {
	Timestamp     string `json:"timestamp"`
	ActorID       string `json:"actor_id,omitempty"`
	SourceAddress string `json:"source_address,omitempty"`
	EventType     string `json:"event_type"`
	Severity      string `json:"severity"`
}

// DashboardActivityResponse contains recent event feeds.
type DashboardActivityResponse struct {
	RecentLogins   []ActivityEntry `json:"recent_logins"`
	FailedLogins   []ActivityEntry `json:"failed_logins"`
	RecentLockouts []ActivityEntry `json:"recent_lockouts"`
}

// AdminService aggregates data for admin dashboard endpoints.
type AdminService struct {
	limiters *AbuseLimiters
	apiKeys  *APIKeyService
	events   *SecurityEventService
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminService creates a new AdminService.
func NewAdminService(limiters *AbuseLimiters, apiKeys *APIKeyService, events *SecurityEventService, logger *slog.Logger) *AdminService {
	return &AdminService{
		limiters: limiters,
		apiKeys:  apiKeys,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source (tests).
func (s *AdminService) WithClock(now func() time.Time) *AdminService {
	s.now = now
	return s
}

// GetDashboardStats returns lockout, key and event counts.
func (s *AdminService) GetDashboardStats(ctx context.Context) (*DashboardStatsResponse, error) {
	now := s.now()
	stats := &DashboardStatsResponse{
		ActiveLockouts: make(map[string]int),
		TrackedSources: make(map[string]int),
		EventsLast24h:  make(map[string]int),
	}

	for _, l := range s.limiters.All() {
		records, err := l.List(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "dashboard: failed to list limiter records",
				slog.String("namespace", l.Namespace()), slog.Any("error", err))
			return nil, err
		}
		stats.TrackedSources[l.Namespace()] = len(records)
		for _, rec := range records {
			if rec.IsBlockedAt(now) {
				stats.ActiveLockouts[l.Namespace()]++
			}
		}
	}

	keys, err := s.apiKeys.ListAll(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "dashboard: failed to list api keys", slog.Any("error", err))
		return nil, err
	}
	for _, k := range keys {
		if k.IsActive && !k.IsExpiredAt(now) {
			stats.ActiveAPIKeys++
		} else {
			stats.InactiveAPIKeys++
		}
	}

	events, err := s.events.Query(ctx, models.EventFilter{Since: now.Add(-24 * time.Hour)})
	if err != nil {
		s.logger.ErrorContext(ctx, "dashboard: failed to query events", slog.Any("error", err))
		return nil, err
	}
	for _, e := range events {
		stats.EventsLast24h[e.EventType]++
	}

	return stats, nil
}

// GetRecentActivity returns recent event feeds. limit is clamped to 20.
func (s *AdminService) GetRecentActivity(ctx context.Context, limit int) (*DashboardActivityResponse, error) {
	if limit <= 0 || limit > 20 {
		limit = 20
	}

	feed := func(types ...string) ([]ActivityEntry, error) {
		events, err := s.events.Query(ctx, models.EventFilter{Types: types, Limit: limit})
		if err != nil {
			return nil, err
		}
		entries := make([]ActivityEntry, 0, len(events))
		for _, e := range events {
			entries = append(entries, ActivityEntry{
				Timestamp:     e.Timestamp.UTC().Format(time.RFC3339),
				ActorID:       e.ActorID,
				SourceAddress: e.SourceAddress,
				EventType:     e.EventType,
				Severity:      e.Severity,
			})
		}
		return entries, nil
	}

	logins, err := feed(models.EventLoginSuccess)
	if err != nil {
		return nil, err
	}
	failed, err := feed(models.EventLoginFailure)
	if err != nil {
		return nil, err
	}
	lockouts, err := feed(models.EventLockoutTriggered, models.EventLockoutCleared)
	if err != nil {
		return nil, err
	}

	return &DashboardActivityResponse{
		RecentLogins:   logins,
		FailedLogins:   failed,
		RecentLockouts: lockouts,
	}, nil
}

// LockoutEntry is one tracked identity as shown to administrators.
type LockoutEntry struct {
	Namespace     string     `json:"namespace"`
	Identity      string     `json:"identity"`
	FailureCount  int        `json:"failure_count"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty"`
	Blocked       bool       `json:"blocked"`
}

// ListLockouts returns tracked identities for one namespace, or for all of
// them when namespace is empty. Blocked entries come first.
func (s *AdminService) ListLockouts(ctx context.Context, namespace string) ([]*LockoutEntry, error) {
	limiters := s.limiters.All()
	if namespace != "" {
		l := s.limiters.ByNamespace(namespace)
		if l == nil {
			return nil, models.ErrNotFound
		}
		limiters = []*AbuseLimiter{l}
	}

	now := s.now()
	var entries []*LockoutEntry
	for _, l := range limiters {
		records, err := l.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			entries = append(entries, &LockoutEntry{
				Namespace:     l.Namespace(),
				Identity:      rec.Key,
				FailureCount:  rec.Count,
				LastAttemptAt: rec.LastAttemptAt,
				BlockedUntil:  rec.BlockedUntil,
				Blocked:       rec.IsBlockedAt(now),
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Blocked != entries[j].Blocked {
			return entries[i].Blocked
		}
		return entries[i].LastAttemptAt.After(entries[j].LastAttemptAt)
	})
	return entries, nil
}

// ClearLockout lifts a block early. Returns false when nothing was tracked.
func (s *AdminService) ClearLockout(ctx context.Context, namespace, identity, actorID string) (bool, error) {
	l := s.limiters.ByNamespace(namespace)
	if l == nil {
		return false, models.ErrNotFound
	}
	if identity == "" {
		return false, models.ErrBadRequest
	}

	cleared, err := l.Clear(ctx, identity, actorID)
	if err != nil {
		return false, err
	}
	if cleared {
		s.logger.InfoContext(ctx, "lockout cleared by admin",
			slog.String("namespace", namespace),
			slog.String("actor_id", actorID))
	}
	return cleared, nil
}
