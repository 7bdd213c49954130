package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/bastion/internal/models"
)

// SessionClaims are carried in the signed session cookie. Anonymous sessions
// have a SessionID but no UserID; they exist so CSRF tokens can be bound to
// login and registration forms.
type SessionClaims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"uid,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IsAuthenticated reports whether the session belongs to a logged-in user.
func (c *SessionClaims) IsAuthenticated() bool {
	return c != nil && c.UserID != ""
}

// SessionManager signs and verifies HS256 session tokens.
type SessionManager struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewSessionManager creates a new SessionManager
func NewSessionManager(secret string, expiry time.Duration) *SessionManager {
	return &SessionManager{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// WithClock replaces the time source (tests).
func (sm *SessionManager) WithClock(now func() time.Time) *SessionManager {
	sm.now = now
	return sm
}

// Expiry returns the session lifetime.
func (sm *SessionManager) Expiry() time.Duration {
	return sm.expiry
}

// IssueAnonymous creates a session with no user attached.
func (sm *SessionManager) IssueAnonymous() (string, *SessionClaims, error) {
	return sm.issue(&SessionClaims{})
}

// Issue creates an authenticated session. Every call mints a new session ID,
// so logging in rotates the session.
func (sm *SessionManager) Issue(userID, email, role string) (string, *SessionClaims, error) {
	return sm.issue(&SessionClaims{UserID: userID, Email: email, Role: role})
}

func (sm *SessionManager) issue(claims *SessionClaims) (string, *SessionClaims, error) {
	now := sm.now()
	claims.SessionID = uuid.New().String()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        claims.SessionID,
		ExpiresAt: jwt.NewNumericDate(now.Add(sm.expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(sm.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, claims, nil
}

// Validate verifies a session token and returns its claims
func (sm *SessionManager) Validate(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return sm.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(sm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}
	if !token.Valid || claims.SessionID == "" {
		return nil, models.ErrInvalidToken
	}
	return claims, nil
}
