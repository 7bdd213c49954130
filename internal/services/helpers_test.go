package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/store"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordedEvents captures events instead of persisting them
type recordedEvents struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (r *recordedEvents) Record(ctx context.Context, event models.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordedEvents) ofType(eventType string) []models.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SecurityEvent, 0)
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHasher() *pkgauth.Hasher {
	return pkgauth.NewHasher(bcrypt.MinCost)
}

var defaultTestSchedule = []time.Duration{
	5 * time.Minute, 15 * time.Minute, time.Hour, 6 * time.Hour, 24 * time.Hour, 7 * 24 * time.Hour,
}

func newTestLimiter(t *testing.T, s store.Store, namespace string, clock *fakeClock, events SecurityEventRecorder) *AbuseLimiter {
	t.Helper()
	l, err := NewAbuseLimiter(namespace, repositories.NewAttemptRepository(s, namespace), LimiterPolicy{
		Threshold:    3,
		Schedule:     defaultTestSchedule,
		IdleTTL:      7 * 24 * time.Hour,
		FastPathSize: 100,
	}, events, discardLogger())
	require.NoError(t, err)
	return l.WithClock(clock.Now)
}

func newTestLimiters(t *testing.T, s store.Store, clock *fakeClock, events SecurityEventRecorder) *AbuseLimiters {
	t.Helper()
	return &AbuseLimiters{
		Login:         newTestLimiter(t, s, models.AbuseNamespaceLogin, clock, events),
		PasswordReset: newTestLimiter(t, s, models.AbuseNamespacePasswordReset, clock, events),
		Registration:  newTestLimiter(t, s, models.AbuseNamespaceRegistration, clock, events),
	}
}

// failingStore fails every operation with ErrStoreUnavailable
type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, models.ErrStoreUnavailable
}
func (failingStore) Set(ctx context.Context, key string, value []byte) error {
	return models.ErrStoreUnavailable
}
func (failingStore) Delete(ctx context.Context, key string) error {
	return models.ErrStoreUnavailable
}
func (failingStore) Scan(ctx context.Context, prefix string) ([]store.Entry, error) {
	return nil, models.ErrStoreUnavailable
}
func (failingStore) Ping(ctx context.Context) error { return models.ErrStoreUnavailable }
func (failingStore) Close() error                   { return nil }
