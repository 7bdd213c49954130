package models

import (
	"time"
)

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the minimal account record the credential core works against.
// Reset fields hold at most one outstanding reset token per user.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Name         string    `json:"name"`
	Role         string    `json:"role"` // e.g., "user", "admin"
	TOTPSecret   string    `json:"totp_secret,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	ResetTokenHash    string     `json:"reset_token_hash,omitempty"`
	ResetTokenExpires *time.Time `json:"reset_token_expires,omitempty"`
	ResetTokenCreated *time.Time `json:"reset_token_created,omitempty"`
	ResetTokenUsed    bool       `json:"reset_token_used,omitempty"`
}

// HasResetToken reports whether any reset token is attached.
func (u *User) HasResetToken() bool {
	return u.ResetTokenHash != ""
}

// ClearResetToken drops every reset field.
func (u *User) ClearResetToken() {
	u.ResetTokenHash = ""
	u.ResetTokenExpires = nil
	u.ResetTokenCreated = nil
	u.ResetTokenUsed = false
}

// ResetSubject is the minimal identity returned when a reset token validates.
type ResetSubject struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}
