package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/store"
)

// mockMailer captures reset links
type mockMailer struct {
	mu       sync.Mutex
	SendFunc func(ctx context.Context, email, link string, expiresAt time.Time) error
	sent     []string
}

func (m *mockMailer) SendPasswordReset(ctx context.Context, email, link string, expiresAt time.Time) error {
	m.mu.Lock()
	m.sent = append(m.sent, link)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, email, link, expiresAt)
	}
	return nil
}

type resetFixture struct {
	svc    *PasswordResetService
	store  store.Store
	users  *repositories.UserRepository
	clock  *fakeClock
	events *recordedEvents
	mailer *mockMailer
	user   *models.User
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	s := store.NewMemoryStore()
	clock := newFakeClock()
	events := &recordedEvents{}
	users := repositories.NewUserRepository(s, 100, 0)
	mailer := &mockMailer{}

	hash, err := testHasher().Hash("OldP@ssw0rd!")
	require.NoError(t, err)
	user := &models.User{ID: "user-1", Email: "alice@example.com", PasswordHash: hash, Role: models.RoleUser}
	require.NoError(t, users.Create(context.Background(), user))

	svc := NewPasswordResetService(users, PasswordResetPolicy{
		TokenTTL:     time.Hour,
		CleanupGrace: 24 * time.Hour,
		BaseURL:      "https://bastion.example.com/",
	}, testHasher(), mailer,
		newTestLimiter(t, s, models.AbuseNamespacePasswordReset, clock, events),
		nil, events, discardLogger()).WithClock(clock.Now)

	return &resetFixture{svc: svc, store: s, users: users, clock: clock, events: events, mailer: mailer, user: user}
}

func TestPasswordReset_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)

	token, _, err := f.svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	subject, err := f.svc.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject.UserID)
	assert.Equal(t, "alice@example.com", subject.Email)

	require.NoError(t, f.svc.CompleteReset(ctx, token, "N3w-P@ssword!", "198.51.100.4"))

	_, err = f.svc.Validate(ctx, token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)

	user, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.NoError(t, testHasher().Compare(user.PasswordHash, "N3w-P@ssword!"))
	assert.False(t, user.HasResetToken())
	assert.Len(t, f.events.ofType(models.EventResetCompleted), 1)
}

func TestPasswordReset_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)
	token, _, err := f.svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(61 * time.Minute)
	_, err = f.svc.Validate(ctx, token)
	assert.ErrorIs(t, err, models.ErrExpiredToken)
}

func TestPasswordReset_OneActiveTokenPerUser(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)
	first, _, err := f.svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)
	second, _, err := f.svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, first)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
	_, err = f.svc.Validate(ctx, second)
	assert.NoError(t, err)

	indexes, err := f.users.ListResetIndexes(ctx)
	require.NoError(t, err)
	assert.Len(t, indexes, 1)
}

func TestPasswordReset_MarkUsedOnce(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)
	token, _, err := f.svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.MarkUsed(ctx, token); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, models.ErrAlreadyUsedToken)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)

	_, err = f.svc.Validate(ctx, token)
	assert.ErrorIs(t, err, models.ErrAlreadyUsedToken)
}

func TestPasswordReset_WeakPasswordKeepsToken(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)
	token, _, err := f.svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	err = f.svc.CompleteReset(ctx, token, "short", "198.51.100.4")
	require.Error(t, err)

	_, err = f.svc.Validate(ctx, token)
	assert.NoError(t, err)
}

func TestPasswordReset_RequestResetUnknownEmail(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)

	require.NoError(t, f.svc.RequestReset(ctx, "nobody@example.com", "198.51.100.4"))
	assert.Empty(t, f.mailer.sent)

	require.NoError(t, f.svc.RequestReset(ctx, "Alice@Example.com", "198.51.100.4"))
	require.Len(t, f.mailer.sent, 1)
	assert.Contains(t, f.mailer.sent[0], "https://bastion.example.com/auth/password/reset/")
}

func TestPasswordReset_RequestFloodIsLimited(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.RequestReset(ctx, "alice@example.com", "198.51.100.9"))
	}

	err := f.svc.RequestReset(ctx, "alice@example.com", "198.51.100.9")
	var rle *models.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Len(t, f.mailer.sent, 3)

	// Other sources are unaffected
	assert.NoError(t, f.svc.RequestReset(ctx, "alice@example.com", "198.51.100.10"))
}

func TestPasswordReset_MailerFailureHidden(t *testing.T) {
	f := newResetFixture(t)
	f.mailer.SendFunc = func(ctx context.Context, email, link string, expiresAt time.Time) error {
		return errors.New("ses throttled")
	}
	assert.NoError(t, f.svc.RequestReset(context.Background(), "alice@example.com", "198.51.100.4"))
}

func TestPasswordReset_RequestResetPadsTiming(t *testing.T) {
	f := newResetFixture(t)
	f.svc.timing = auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 50})

	start := time.Now()
	require.NoError(t, f.svc.RequestReset(context.Background(), "nobody@example.com", "198.51.100.4"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPasswordReset_TokenGuessingIsLimited(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.CheckToken(ctx, "guess", "203.0.113.50")
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	}

	_, err := f.svc.CheckToken(ctx, "guess", "203.0.113.50")
	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.Len(t, f.events.ofType(models.EventResetTokenRejected), 3)
}

func TestPasswordReset_CleanupIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)
	_, _, err := f.svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	// Inside the grace window the expired token is kept
	f.clock.Advance(2 * time.Hour)
	n, err := f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(24 * time.Hour)
	n, err = f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	user, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, user.HasResetToken())
}

func TestPasswordReset_CleanupDropsDanglingIndex(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)
	require.NoError(t, f.users.PutResetIndex(ctx, "deadbeef", "ghost-user"))

	n, err := f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	indexes, err := f.users.ListResetIndexes(ctx)
	require.NoError(t, err)
	assert.Empty(t, indexes)
}

func TestPasswordReset_UsedTokenSeenByOtherInstance(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)

	// A second process over the same store, with its own caches
	otherUsers := repositories.NewUserRepository(f.store, 100, 0)
	other := NewPasswordResetService(otherUsers, PasswordResetPolicy{
		TokenTTL:     time.Hour,
		CleanupGrace: 24 * time.Hour,
		BaseURL:      "https://bastion.example.com/",
	}, testHasher(), &mockMailer{}, nil, nil, f.events, discardLogger()).WithClock(f.clock.Now)

	token, _, err := f.svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = other.Validate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkUsed(ctx, token))

	_, err = other.Validate(ctx, token)
	assert.ErrorIs(t, err, models.ErrAlreadyUsedToken)
	assert.ErrorIs(t, other.MarkUsed(ctx, token), models.ErrAlreadyUsedToken)
}
