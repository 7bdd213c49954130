package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/store"
)

// MockSecurityEventRepository implements SecurityEventRepository for testing
type MockSecurityEventRepository struct {
	AppendFunc func(ctx context.Context, event *models.SecurityEvent) error
	ListFunc   func(ctx context.Context) ([]*models.SecurityEvent, error)
	DeleteFunc func(ctx context.Context, event *models.SecurityEvent) error
}

func (m *MockSecurityEventRepository) Append(ctx context.Context, event *models.SecurityEvent) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, event)
	}
	return nil
}

func (m *MockSecurityEventRepository) List(ctx context.Context) ([]*models.SecurityEvent, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return []*models.SecurityEvent{}, nil
}

func (m *MockSecurityEventRepository) Delete(ctx context.Context, event *models.SecurityEvent) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, event)
	}
	return nil
}

func newTestEventService(s store.Store, clock *fakeClock, cfg SecurityEventConfig) *SecurityEventService {
	return NewSecurityEventService(repositories.NewSecurityEventRepository(s), cfg, discardLogger()).WithClock(clock.Now)
}

func TestSecurityEventService_RecordAndQuery(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestEventService(store.NewMemoryStore(), clock, SecurityEventConfig{})

	svc.Record(ctx, models.SecurityEvent{EventType: models.EventLoginFailure, Severity: models.SeverityMedium, SourceAddress: "203.0.113.1"})
	clock.Advance(time.Second)
	svc.Record(ctx, models.SecurityEvent{EventType: models.EventLockoutTriggered, Severity: models.SeverityHigh, SourceAddress: "203.0.113.1"})
	clock.Advance(time.Second)
	svc.Record(ctx, models.SecurityEvent{EventType: models.EventLoginSuccess, Severity: models.SeverityLow, ActorID: "user-1"})

	all, err := svc.Query(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.EventLoginSuccess, all[0].EventType, "newest first")
	assert.NotEmpty(t, all[0].ID)

	high, err := svc.Query(ctx, models.EventFilter{Severities: []string{models.SeverityHigh}})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, models.EventLockoutTriggered, high[0].EventType)

	limited, err := svc.Query(ctx, models.EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSecurityEventService_RecordCountsMetric(t *testing.T) {
	svc := newTestEventService(store.NewMemoryStore(), newFakeClock(), SecurityEventConfig{})
	counter := metrics.SecurityEvents.WithLabelValues(models.EventCSRFViolation, models.SeverityMedium)
	before := testutil.ToFloat64(counter)

	svc.Record(context.Background(), models.SecurityEvent{EventType: models.EventCSRFViolation, Severity: models.SeverityMedium})

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestSecurityEventService_PersistFailureNotPropagated(t *testing.T) {
	repo := &MockSecurityEventRepository{
		AppendFunc: func(ctx context.Context, event *models.SecurityEvent) error {
			return models.ErrStoreUnavailable
		},
	}
	svc := NewSecurityEventService(repo, SecurityEventConfig{}, discardLogger())
	before := testutil.ToFloat64(metrics.SecurityEventWriteFailures)

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), models.SecurityEvent{EventType: models.EventLogout, Severity: "bogus"})
	})
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SecurityEventWriteFailures))
}

func TestSecurityEventService_Export(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestEventService(store.NewMemoryStore(), clock, SecurityEventConfig{})
	svc.Record(ctx, models.SecurityEvent{EventType: models.EventAPIKeyRevoked, Severity: models.SeverityMedium, ActorID: "user-1"})
	svc.Record(ctx, models.SecurityEvent{EventType: models.EventAPIKeyRevoked, Severity: models.SeverityMedium, ActorID: "user-2"})

	filter := models.EventFilter{ActorID: "user-1"}
	export, err := svc.Export(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), export.ExportedAt)
	assert.Equal(t, 1, export.Count)
	assert.Equal(t, filter, export.Filter)
}

func TestSecurityEventService_EnforceRetention(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := newTestEventService(store.NewMemoryStore(), clock, SecurityEventConfig{MaxAge: 30 * 24 * time.Hour, MaxEvents: 3})

	svc.Record(ctx, models.SecurityEvent{EventType: "old", Severity: models.SeverityLow})
	clock.Advance(31 * 24 * time.Hour)
	for i := 0; i < 5; i++ {
		svc.Record(ctx, models.SecurityEvent{EventType: fmt.Sprintf("recent-%d", i), Severity: models.SeverityLow})
		clock.Advance(time.Minute)
	}

	removed, err := svc.EnforceRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	remaining, err := svc.Query(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 3)
	assert.Equal(t, "recent-4", remaining[0].EventType)
	assert.Equal(t, "recent-2", remaining[2].EventType)

	removed, err = svc.EnforceRetention(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
