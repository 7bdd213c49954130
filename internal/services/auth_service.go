package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/google/uuid"
)

// UserRepository is the account storage the login and registration flows need
type UserRepository interface {
	LoadByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
}

// SessionRevoker records sessions ended by logout
type SessionRevoker interface {
	Revoke(ctx context.Context, sessionID, userID string, expiresAt time.Time) error
}

// LoginInput is one login attempt
type LoginInput struct {
	Email      string
	Password   string
	TOTPCode   string
	SourceAddr string
}

// RegisterInput is one registration request
type RegisterInput struct {
	Email      string
	Password   string
	Name       string
	SourceAddr string
}

// LoginResult is a successful login: a freshly minted session
type LoginResult struct {
	Token  string
	Claims *auth.SessionClaims
	User   *UserResponse
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// AuthService handles authentication business logic
type AuthService struct {
	users        UserRepository
	sessions     *auth.SessionManager
	revocations  SessionRevoker
	hasher       *pkgauth.Hasher
	totp         auth.TOTPVerifier
	loginLimiter *AbuseLimiter
	regLimiter   *AbuseLimiter
	timing       *auth.TimingDelay
	events       SecurityEventRecorder
	logger       *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates a new AuthService. timing may be nil.
func NewAuthService(
	users UserRepository,
	sessions *auth.SessionManager,
	revocations SessionRevoker,
	hasher *pkgauth.Hasher,
	totp auth.TOTPVerifier,
	limiters *AbuseLimiters,
	timing *auth.TimingDelay,
	events SecurityEventRecorder,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:        users,
		sessions:     sessions,
		revocations:  revocations,
		hasher:       hasher,
		totp:         totp,
		loginLimiter: limiters.Login,
		regLimiter:   limiters.Registration,
		timing:       timing,
		events:       events,
		logger:       logger,
	}
}

// Login authenticates a user and issues a new session. Blocked sources are
// refused before any credential check; every failure is counted against the
// source address and any success resets it.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	start := time.Now()
	if s.timing != nil {
		defer s.timing.WaitFrom(ctx, start)
	}

	if err := s.loginLimiter.Check(ctx, in.SourceAddr); err != nil {
		var rle *models.RateLimitError
		if errors.As(err, &rle) {
			s.events.Record(ctx, models.SecurityEvent{
				EventType:     models.EventLockoutBlocked,
				SourceAddress: in.SourceAddr,
				Severity:      models.SeverityMedium,
				Details: models.EventDetails{
					"namespace":           models.AbuseNamespaceLogin,
					"retry_after_seconds": rle.RetryAfterSeconds(),
				},
			})
		}
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, s.loginFailed(ctx, in.SourceAddr, "", "missing_credentials")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		// Verify against the stored record; a cached copy may predate a reset
		user, err = s.users.LoadByID(ctx, user.ID)
	}
	if err != nil {
		if !store.IsNotFound(err) {
			return nil, err
		}
		// Spend the same bcrypt work as a real comparison
		_ = s.hasher.Compare(s.getDummyHash(), in.Password)
		s.logger.InfoContext(ctx, "login failed: invalid credentials",
			slog.String("email", pkglogger.SanitizedEmail(email)))
		return nil, s.loginFailed(ctx, in.SourceAddr, "", "invalid_credentials")
	}

	if err := s.hasher.Compare(user.PasswordHash, in.Password); err != nil {
		s.logger.InfoContext(ctx, "login failed: invalid credentials", slog.String("user_id", user.ID))
		return nil, s.loginFailed(ctx, in.SourceAddr, user.ID, "invalid_credentials")
	}

	if user.TOTPSecret != "" {
		if in.TOTPCode == "" {
			return nil, models.ErrTOTPRequired
		}
		if !s.totp.Verify(user.TOTPSecret, in.TOTPCode) {
			s.logger.InfoContext(ctx, "login failed: invalid totp code", slog.String("user_id", user.ID))
			return nil, s.loginFailed(ctx, in.SourceAddr, user.ID, "invalid_totp")
		}
	}

	if err := s.loginLimiter.RecordOutcome(ctx, in.SourceAddr, true); err != nil {
		return nil, err
	}

	token, claims, err := s.sessions.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	s.events.Record(ctx, models.SecurityEvent{
		EventType:     models.EventLoginSuccess,
		ActorID:       user.ID,
		SourceAddress: in.SourceAddr,
		Severity:      models.SeverityLow,
	})

	return &LoginResult{
		Token:  token,
		Claims: claims,
		User:   userModelToResponse(user),
	}, nil
}

// loginFailed counts the failure and returns the generic error
func (s *AuthService) loginFailed(ctx context.Context, sourceAddr, userID, reason string) error {
	if err := s.loginLimiter.RecordOutcome(ctx, sourceAddr, false); err != nil {
		return err
	}
	s.events.Record(ctx, models.SecurityEvent{
		EventType:     models.EventLoginFailure,
		ActorID:       userID,
		SourceAddress: sourceAddr,
		Severity:      models.SeverityMedium,
		Details:       models.EventDetails{"reason": reason},
	})
	return models.ErrUnauthenticated
}

// getDummyHash returns the hash unknown emails are compared against. It
// always costs a full bcrypt comparison, even when hashing fails.
func (s *AuthService) getDummyHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("timing-equalization-" + uuid.NewString())
		if err != nil {
			s.logger.Warn("dummy hash generation failed, using fixed hash", slog.Any("error", err))
			hash = pkgauth.UnmatchableHash(s.hasher.Cost())
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// Logout revokes the session so the cookie stops working before it expires
func (s *AuthService) Logout(ctx context.Context, claims *auth.SessionClaims, sourceAddr string) error {
	if claims == nil || claims.SessionID == "" {
		return nil
	}

	expiresAt := time.Now().Add(s.sessions.Expiry())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := s.revocations.Revoke(ctx, claims.SessionID, claims.UserID, expiresAt); err != nil {
		return err
	}

	if claims.IsAuthenticated() {
		s.events.Record(ctx, models.SecurityEvent{
			EventType:     models.EventLogout,
			ActorID:       claims.UserID,
			SourceAddress: sourceAddr,
			Severity:      models.SeverityLow,
		})
	}
	return nil
}

// Register creates a user account. Every attempt counts against the source
// address in the registration namespace, which caps account creation per source.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*UserResponse, error) {
	if err := s.regLimiter.Check(ctx, in.SourceAddr); err != nil {
		return nil, err
	}
	if err := s.regLimiter.RecordOutcome(ctx, in.SourceAddr, false); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	user, err := s.createUser(ctx, email, in.Password, strings.TrimSpace(in.Name), models.RoleUser)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, models.SecurityEvent{
		EventType:     models.EventRegistration,
		ActorID:       user.ID,
		SourceAddress: in.SourceAddr,
		Severity:      models.SeverityLow,
	})
	return userModelToResponse(user), nil
}

func (s *AuthService) createUser(ctx context.Context, email, password, name, role string) (*models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureAdmin creates the bootstrap admin account when it does not exist yet
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		if existing.Role != models.RoleAdmin {
			s.logger.WarnContext(ctx, "bootstrap admin email belongs to a non-admin account",
				slog.String("user_id", existing.ID))
		}
		return nil
	}
	if !store.IsNotFound(err) {
		return err
	}

	user, err := s.createUser(ctx, email, password, "Administrator", models.RoleAdmin)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "bootstrap admin created", slog.String("user_id", user.ID))
	return nil
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
}
