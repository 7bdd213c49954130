package services

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/google/uuid"
)

// SecurityEventRepository is the persistence the event sink writes through
type SecurityEventRepository interface {
	Append(ctx context.Context, event *models.SecurityEvent) error
	List(ctx context.Context) ([]*models.SecurityEvent, error)
	Delete(ctx context.Context, event *models.SecurityEvent) error
}

// SecurityEventConfig bounds the retained event log
type SecurityEventConfig struct {
	MaxAge    time.Duration
	MaxEvents int
}

// SecurityEventService records security events with a dual-write (slog + store)
type SecurityEventService struct {
	repo   SecurityEventRepository
	config SecurityEventConfig
	audit  *pkglogger.AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

// NewSecurityEventService creates a new SecurityEventService
func NewSecurityEventService(repo SecurityEventRepository, config SecurityEventConfig, logger *slog.Logger) *SecurityEventService {
	return &SecurityEventService{
		repo:   repo,
		config: config,
		audit:  pkglogger.NewAuditLogger(logger),
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source (tests).
func (s *SecurityEventService) WithClock(now func() time.Time) *SecurityEventService {
	s.now = now
	return s
}

// Record assigns an id and timestamp, logs the event and persists it.
// Persistence failures are logged and counted, never returned.
func (s *SecurityEventService) Record(ctx context.Context, event models.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if !models.IsValidSeverity(event.Severity) {
		event.Severity = models.SeverityLow
	}

	s.audit.LogSecurityEvent(ctx, pkglogger.AuditEvent{
		EventID:       event.ID,
		EventType:     event.EventType,
		Severity:      event.Severity,
		ActorID:       event.ActorID,
		SourceAddress: event.SourceAddress,
		Details:       event.Details,
	})

	metrics.SecurityEvents.WithLabelValues(event.EventType, event.Severity).Inc()

	if err := s.repo.Append(ctx, &event); err != nil {
		metrics.SecurityEventWriteFailures.Inc()
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", event.EventType),
			slog.Any("error", err),
		)
	}
}

// Query returns matching events, newest first
func (s *SecurityEventService) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]*models.SecurityEvent, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if !filter.Matches(all[i]) {
			continue
		}
		events = append(events, all[i])
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	return events, nil
}

// Export produces a dated document of matching events for offline review
func (s *SecurityEventService) Export(ctx context.Context, filter models.EventFilter) (*models.EventExport, error) {
	events, err := s.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &models.EventExport{
		ExportedAt: s.now().UTC(),
		Filter:     filter,
		Count:      len(events),
		Events:     events,
	}, nil
}

// EnforceRetention drops events older than MaxAge, then the oldest beyond MaxEvents.
func (s *SecurityEventService) EnforceRetention(ctx context.Context) (int, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	cutoff := time.Time{}
	if s.config.MaxAge > 0 {
		cutoff = s.now().Add(-s.config.MaxAge)
	}

	excess := 0
	if s.config.MaxEvents > 0 && len(all) > s.config.MaxEvents {
		excess = len(all) - s.config.MaxEvents
	}

	removed := 0
	for i, event := range all {
		if i >= excess && !event.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.repo.Delete(ctx, event); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.InfoContext(ctx, "security event retention applied", slog.Int("removed", removed))
	}
	return removed, nil
}
