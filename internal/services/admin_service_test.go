package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
)

func TestAdminService_Dashboard(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	clock := newFakeClock()
	events := newTestEventService(s, clock, SecurityEventConfig{})
	limiters := newTestLimiters(t, s, clock, events)
	keys := newTestAPIKeyService(s, clock, events)
	admin := NewAdminService(limiters, keys, events, discardLogger()).WithClock(clock.Now)

	for i := 0; i < 3; i++ {
		require.NoError(t, limiters.Login.RecordOutcome(ctx, attacker, false))
	}
	require.NoError(t, limiters.Login.RecordOutcome(ctx, "192.0.2.1", false))
	createKey(t, keys, "user-1", []string{"read"}, time.Hour)
	revoked := createKey(t, keys, "user-1", []string{"read"}, time.Hour)
	_, err := keys.Revoke(ctx, revoked.APIKey.ID, "user-1", models.RoleUser)
	require.NoError(t, err)

	stats, err := admin.GetDashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveLockouts[models.AbuseNamespaceLogin])
	assert.Equal(t, 2, stats.TrackedSources[models.AbuseNamespaceLogin])
	assert.Equal(t, 1, stats.ActiveAPIKeys)
	assert.Equal(t, 1, stats.InactiveAPIKeys)
	assert.Equal(t, 1, stats.EventsLast24h[models.EventLockoutTriggered])
	assert.Equal(t, 2, stats.EventsLast24h[models.EventAPIKeyCreated])

	activity, err := admin.GetRecentActivity(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, activity.RecentLockouts, 1)
	assert.Empty(t, activity.RecentLogins)
}

func TestAdminService_ListAndClearLockouts(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	clock := newFakeClock()
	events := newTestEventService(s, clock, SecurityEventConfig{})
	limiters := newTestLimiters(t, s, clock, events)
	keys := newTestAPIKeyService(s, clock, events)
	admin := NewAdminService(limiters, keys, events, discardLogger()).WithClock(clock.Now)

	require.NoError(t, limiters.Login.RecordOutcome(ctx, "192.0.2.1", false))
	clock.Advance(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, limiters.Login.RecordOutcome(ctx, attacker, false))
	}
	require.NoError(t, limiters.Registration.RecordOutcome(ctx, "192.0.2.9", false))

	all, err := admin.ListLockouts(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, attacker, all[0].Identity)
	assert.True(t, all[0].Blocked)
	assert.Equal(t, 3, all[0].FailureCount)

	login, err := admin.ListLockouts(ctx, models.AbuseNamespaceLogin)
	require.NoError(t, err)
	assert.Len(t, login, 2)

	_, err = admin.ListLockouts(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	cleared, err := admin.ClearLockout(ctx, models.AbuseNamespaceLogin, attacker, "admin-1")
	require.NoError(t, err)
	assert.True(t, cleared)

	status, err := limiters.Login.IsBlocked(ctx, attacker)
	require.NoError(t, err)
	assert.False(t, status.Blocked)

	cleared, err = admin.ClearLockout(ctx, models.AbuseNamespaceLogin, attacker, "admin-1")
	require.NoError(t, err)
	assert.False(t, cleared)

	_, err = admin.ClearLockout(ctx, "nope", attacker, "admin-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
