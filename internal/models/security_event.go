package models

import "time"

// Event types reported by the credential core
const (
	EventCSRFViolation      = "csrf_violation"
	EventLoginSuccess       = "login_success"
	EventLoginFailure       = "login_failure"
	EventLockoutTriggered   = "lockout_triggered"
	EventLockoutBlocked     = "lockout_blocked"
	EventLockoutCleared     = "lockout_cleared"
	EventRegistration       = "registration"
	EventLogout             = "logout"
	EventAPIKeyCreated      = "api_key_created"
	EventAPIKeyRejected     = "api_key_rejected"
	EventAPIKeyRevoked      = "api_key_revoked"
	EventAPIKeyExpired      = "api_key_expired"
	EventPermissionDenied   = "permission_denied"
	EventResetRequested     = "password_reset_requested"
	EventResetTokenRejected = "password_reset_token_rejected"
	EventResetCompleted     = "password_reset_completed"
)

// Severity levels
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var validSeverities = map[string]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// IsValidSeverity checks a severity string against the known levels
func IsValidSeverity(s string) bool {
	return validSeverities[s]
}

// SecurityEvent is one append-only entry in the security event log.
type SecurityEvent struct {
	ID            string       `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	EventType     string       `json:"event_type"`
	ActorID       string       `json:"actor_id,omitempty"`
	SourceAddress string       `json:"source_address,omitempty"`
	Details       EventDetails `json:"details,omitempty"`
	Severity      string       `json:"severity"`
}

// EventDetails holds additional context for security events
type EventDetails map[string]interface{}

// EventFilter narrows a query over the event log. Zero values match everything.
type EventFilter struct {
	Types      []string  `json:"types,omitempty"`
	Severities []string  `json:"severities,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Since      time.Time `json:"since,omitempty"`
	Until      time.Time `json:"until,omitempty"`
	Limit      int       `json:"limit,omitempty"`
}

// Matches reports whether an event passes the filter (ignores Limit).
func (f EventFilter) Matches(e *SecurityEvent) bool {
	if len(f.Types) > 0 && !contains(f.Types, e.EventType) {
		return false
	}
	if len(f.Severities) > 0 && !contains(f.Severities, e.Severity) {
		return false
	}
	if f.ActorID != "" && f.ActorID != e.ActorID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// EventExport is the dated document produced for offline review.
type EventExport struct {
	ExportedAt time.Time        `json:"exported_at"`
	Filter     EventFilter      `json:"filter"`
	Count      int              `json:"count"`
	Events     []*SecurityEvent `json:"events"`
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
