package models

import "time"

// CSRFToken is the persisted record behind an anti-forgery token.
// The token itself is never stored, only its SHA-256 hash.
type CSRFToken struct {
	TokenHash string     `json:"token_hash"`
	SessionID string     `json:"session_id"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}
