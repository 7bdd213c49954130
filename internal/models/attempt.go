package models

import "time"

// Abuse limiter namespaces. Each gets an independent limiter instance.
const (
	AbuseNamespaceLogin         = "login"
	AbuseNamespacePasswordReset = "password_reset"
	AbuseNamespaceRegistration  = "registration"
)

// AttemptRecord tracks consecutive failures for one identity (usually a client IP)
// within a limiter namespace.
type AttemptRecord struct {
	Key           string     `json:"key"`
	Namespace     string     `json:"namespace"`
	Count         int        `json:"count"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty"`
}

// IsBlockedAt reports whether the record blocks attempts at the given instant.
func (r *AttemptRecord) IsBlockedAt(now time.Time) bool {
	return r.BlockedUntil != nil && now.Before(*r.BlockedUntil)
}

// BlockStatus is the answer to "may this identity attempt now?".
type BlockStatus struct {
	Blocked    bool          `json:"blocked"`
	RetryAfter time.Duration `json:"-"`
	Until      time.Time     `json:"until,omitempty"`
}
