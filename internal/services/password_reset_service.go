package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// ResetUserRepository is the account storage the reset lifecycle needs
type ResetUserRepository interface {
	LoadByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	PutResetIndex(ctx context.Context, tokenHash, userID string) error
	GetResetIndex(ctx context.Context, tokenHash string) (string, error)
	DeleteResetIndex(ctx context.Context, tokenHash string) error
	ListResetIndexes(ctx context.Context) (map[string]string, error)
	List(ctx context.Context) ([]*models.User, error)
}

// PasswordResetPolicy configures token lifetime and link construction
type PasswordResetPolicy struct {
	TokenTTL     time.Duration
	CleanupGrace time.Duration
	BaseURL      string
}

// PasswordResetService owns the reset token lifecycle. A user holds at most
// one outstanding token; issuing a new one replaces the old.
type PasswordResetService struct {
	users   ResetUserRepository
	policy  PasswordResetPolicy
	hasher  *pkgauth.Hasher
	mailer  Mailer
	limiter *AbuseLimiter
	timing  *auth.TimingDelay
	locks   *store.KeyedMutex
	events  SecurityEventRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewPasswordResetService creates a new PasswordResetService. limiter and timing may be nil.
func NewPasswordResetService(
	users ResetUserRepository,
	policy PasswordResetPolicy,
	hasher *pkgauth.Hasher,
	mailer Mailer,
	limiter *AbuseLimiter,
	timing *auth.TimingDelay,
	events SecurityEventRecorder,
	logger *slog.Logger,
) *PasswordResetService {
	return &PasswordResetService{
		users:   users,
		policy:  policy,
		hasher:  hasher,
		mailer:  mailer,
		limiter: limiter,
		timing:  timing,
		locks:   store.NewKeyedMutex(),
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source (tests).
func (s *PasswordResetService) WithClock(now func() time.Time) *PasswordResetService {
	s.now = now
	return s
}

// Issue creates a reset token for the account, replacing any previous token.
// Returns models.ErrNotFound for unknown emails; callers facing the network
// use RequestReset, which hides that distinction.
func (s *PasswordResetService) Issue(ctx context.Context, email string) (string, *models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}

	token, err := auth.GenerateToken(auth.TokenBytes)
	if err != nil {
		return "", nil, err
	}
	tokenHash := auth.HashToken(token)

	unlock := s.locks.Lock(user.ID)
	defer unlock()

	user, err = s.users.LoadByID(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}
	previous := user.ResetTokenHash

	now := s.now()
	expires := now.Add(s.policy.TokenTTL)
	user.ResetTokenHash = tokenHash
	user.ResetTokenCreated = &now
	user.ResetTokenExpires = &expires
	user.ResetTokenUsed = false
	user.UpdatedAt = now

	if err := s.users.Update(ctx, user); err != nil {
		return "", nil, err
	}
	if err := s.users.PutResetIndex(ctx, tokenHash, user.ID); err != nil {
		return "", nil, err
	}
	if previous != "" && previous != tokenHash {
		if err := s.users.DeleteResetIndex(ctx, previous); err != nil {
			// The stale index no longer matches the user record; cleanup will drop it
			s.logger.WarnContext(ctx, "failed to delete replaced reset index", slog.Any("error", err))
		}
	}

	return token, user, nil
}

// Validate checks a presented token: it must exist, be unexpired and unused.
func (s *PasswordResetService) Validate(ctx context.Context, token string) (*models.ResetSubject, error) {
	user, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.check(user); err != nil {
		return nil, err
	}
	return &models.ResetSubject{UserID: user.ID, Email: user.Email}, nil
}

// resolve maps a token to the user currently holding it. The user record is
// read from the store so a token consumed by another process is seen as used.
func (s *PasswordResetService) resolve(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, models.ErrInvalidToken
	}
	tokenHash := auth.HashToken(token)

	userID, err := s.users.GetResetIndex(ctx, tokenHash)
	if store.IsNotFound(err) {
		return nil, models.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	user, err := s.users.LoadByID(ctx, userID)
	if store.IsNotFound(err) {
		return nil, models.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !user.HasResetToken() || !auth.ConstantTimeEqual(user.ResetTokenHash, tokenHash) {
		return nil, models.ErrInvalidToken
	}
	return user, nil
}

func (s *PasswordResetService) check(user *models.User) error {
	if user.ResetTokenExpires == nil || !s.now().Before(*user.ResetTokenExpires) {
		return models.ErrExpiredToken
	}
	if user.ResetTokenUsed {
		return models.ErrAlreadyUsedToken
	}
	return nil
}

// MarkUsed consumes a token. It re-validates under the user's lock, so of two
// concurrent callers exactly one succeeds.
func (s *PasswordResetService) MarkUsed(ctx context.Context, token string) error {
	subject, err := s.Validate(ctx, token)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(subject.UserID)
	defer unlock()

	user, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := s.check(user); err != nil {
		return err
	}

	user.ResetTokenUsed = true
	user.UpdatedAt = s.now()
	return s.users.Update(ctx, user)
}

// Clear removes the token from its user and drops the index entry
func (s *PasswordResetService) Clear(ctx context.Context, token string) error {
	tokenHash := auth.HashToken(token)
	userID, err := s.users.GetResetIndex(ctx, tokenHash)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.clearIndexed(ctx, tokenHash, userID, func(*models.User) bool { return true })
}

// clearIndexed clears the user's reset fields when they still hold tokenHash
// and shouldClear agrees, then drops the index. Returns errKeep when the
// user's token is still wanted.
func (s *PasswordResetService) clearIndexed(ctx context.Context, tokenHash, userID string, shouldClear func(*models.User) bool) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	user, err := s.users.LoadByID(ctx, userID)
	if err != nil && !store.IsNotFound(err) {
		return err
	}
	if err == nil && user.ResetTokenHash == tokenHash {
		if !shouldClear(user) {
			return errKeep
		}
		user.ClearResetToken()
		user.UpdatedAt = s.now()
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
	}
	return s.users.DeleteResetIndex(ctx, tokenHash)
}

var errKeep = errors.New("keep reset token")

// RequestReset issues and mails a token when the account exists. The response
// time is padded so known and unknown emails cannot be told apart, and unknown
// emails are not reported to the caller.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, sourceAddr string) error {
	start := time.Now()
	if s.timing != nil {
		defer s.timing.WaitFrom(ctx, start)
	}

	if s.limiter != nil {
		if err := s.limiter.Check(ctx, sourceAddr); err != nil {
			return err
		}
		// Every request counts, found or not, so mail flooding is bounded per source
		if err := s.limiter.RecordOutcome(ctx, sourceAddr, false); err != nil {
			return err
		}
	}

	email = strings.ToLower(strings.TrimSpace(email))
	token, user, err := s.Issue(ctx, email)
	if store.IsNotFound(err) {
		s.logger.InfoContext(ctx, "password reset requested for unknown email",
			slog.String("email", pkglogger.SanitizedEmail(email)))
		s.events.Record(ctx, models.SecurityEvent{
			EventType:     models.EventResetRequested,
			SourceAddress: sourceAddr,
			Severity:      models.SeverityLow,
			Details:       models.EventDetails{"account_found": false},
		})
		return nil
	}
	if err != nil {
		return err
	}

	link := strings.TrimRight(s.policy.BaseURL, "/") + "/auth/password/reset/" + token
	if err := s.mailer.SendPasswordReset(ctx, user.Email, link, *user.ResetTokenExpires); err != nil {
		// Delivery failure must look like success to the caller
		s.logger.ErrorContext(ctx, "failed to deliver password reset email", slog.Any("error", err))
	}

	s.events.Record(ctx, models.SecurityEvent{
		EventType:     models.EventResetRequested,
		ActorID:       user.ID,
		SourceAddress: sourceAddr,
		Severity:      models.SeverityLow,
		Details:       models.EventDetails{"account_found": true},
	})
	return nil
}

// CheckToken validates a token for display of the reset form. Rejections
// count against the source address.
func (s *PasswordResetService) CheckToken(ctx context.Context, token, sourceAddr string) (*models.ResetSubject, error) {
	if s.limiter != nil {
		if err := s.limiter.Check(ctx, sourceAddr); err != nil {
			return nil, err
		}
	}
	subject, err := s.Validate(ctx, token)
	if err != nil {
		s.rejected(ctx, err, sourceAddr)
		return nil, err
	}
	return subject, nil
}

// CompleteReset sets a new password. Steps run strictly in order:
// validate, mark used, hash and persist, clear.
func (s *PasswordResetService) CompleteReset(ctx context.Context, token, newPassword, sourceAddr string) error {
	if s.limiter != nil {
		if err := s.limiter.Check(ctx, sourceAddr); err != nil {
			return err
		}
	}
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	subject, err := s.Validate(ctx, token)
	if err != nil {
		s.rejected(ctx, err, sourceAddr)
		return err
	}
	if err := s.MarkUsed(ctx, token); err != nil {
		s.rejected(ctx, err, sourceAddr)
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return models.ErrInternalServer
	}
	if err := s.setPassword(ctx, subject.UserID, hash); err != nil {
		return err
	}
	if err := s.Clear(ctx, token); err != nil {
		// Token is already marked used; cleanup removes it later
		s.logger.WarnContext(ctx, "failed to clear used reset token", slog.Any("error", err))
	}

	if s.limiter != nil {
		if err := s.limiter.RecordOutcome(ctx, sourceAddr, true); err != nil {
			s.logger.WarnContext(ctx, "failed to reset limiter", slog.Any("error", err))
		}
	}
	s.events.Record(ctx, models.SecurityEvent{
		EventType:     models.EventResetCompleted,
		ActorID:       subject.UserID,
		SourceAddress: sourceAddr,
		Severity:      models.SeverityMedium,
	})
	return nil
}

func (s *PasswordResetService) setPassword(ctx context.Context, userID, hash string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	user, err := s.users.LoadByID(ctx, userID)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now()
	return s.users.Update(ctx, user)
}

func (s *PasswordResetService) rejected(ctx context.Context, err error, sourceAddr string) {
	if errors.Is(err, models.ErrStoreUnavailable) {
		return
	}
	if s.limiter != nil {
		if lerr := s.limiter.RecordOutcome(ctx, sourceAddr, false); lerr != nil {
			s.logger.WarnContext(ctx, "failed to record reset failure", slog.Any("error", lerr))
		}
	}
	s.events.Record(ctx, models.SecurityEvent{
		EventType:     models.EventResetTokenRejected,
		SourceAddress: sourceAddr,
		Severity:      models.SeverityMedium,
		Details:       models.EventDetails{"reason": tokenRejectionReason(err)},
	})
}

func tokenRejectionReason(err error) string {
	switch {
	case errors.Is(err, models.ErrExpiredToken):
		return "expired"
	case errors.Is(err, models.ErrAlreadyUsedToken):
		return "already_used"
	default:
		return "invalid"
	}
}

// Cleanup removes tokens whose expiry passed more than CleanupGrace ago,
// used or not, and drops index entries that no longer match a user.
func (s *PasswordResetService) Cleanup(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.policy.CleanupGrace)
	stale := func(u *models.User) bool {
		return u.ResetTokenExpires == nil || u.ResetTokenExpires.Before(cutoff)
	}

	removed := 0
	indexes, err := s.users.ListResetIndexes(ctx)
	if err != nil {
		return 0, err
	}
	for tokenHash, userID := range indexes {
		err := s.clearIndexed(ctx, tokenHash, userID, stale)
		if errors.Is(err, errKeep) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}

	// Users whose index entry was lost still carry the fields
	users, err := s.users.List(ctx)
	if err != nil {
		return removed, err
	}
	for _, u := range users {
		if !u.HasResetToken() || !stale(u) {
			continue
		}
		if _, indexed := indexes[u.ResetTokenHash]; indexed {
			continue
		}
		err := s.clearIndexed(ctx, u.ResetTokenHash, u.ID, stale)
		if errors.Is(err, errKeep) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}

	return removed, nil
}
