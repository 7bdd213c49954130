package logger

import (
	"context"
	"log/slog"
)

// AuditEvent is the log-side shape of a security event
type AuditEvent struct {
	EventID       string
	EventType     string
	Severity      string
	ActorID       string
	SourceAddress string
	Details       map[string]interface{}
}

// AuditLogger writes security audit lines
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogSecurityEvent logs one event. High and critical severities log at WARN.
func (al *AuditLogger) LogSecurityEvent(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.String("severity", event.Severity),
	}

	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", event.ActorID))
	}
	if event.SourceAddress != "" {
		attrs = append(attrs, slog.String("source_address", event.SourceAddress))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, slog.Any("details", event.Details))
	}

	level := slog.LevelInfo
	if event.Severity == "high" || event.Severity == "critical" {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
