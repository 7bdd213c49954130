package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveQueryKeys are matched as substrings of lowercased query keys,
// so "reset_token" and "X-Api-Key" are both caught.
var sensitiveQueryKeys = []string{
	"password", "token", "secret", "key", "auth", "csrf", "email",
}

// SanitizedEmail keeps the first character of the local part and the TLD:
// "user@example.com" logs as "u***@*******.com".
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	masked := local[:1] + strings.Repeat("*", len(local)-1) + "@"
	if dot := strings.LastIndexByte(domain, '.'); dot > 0 {
		masked += maskLabels(domain[:dot]) + domain[dot:]
	} else {
		masked += domain
	}
	return masked
}

func maskLabels(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' {
			return r
		}
		return '*'
	}, s)
}

// RedactedAttr hides value outside development.
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, redacted)
	}
	return slog.String(key, value)
}

// SensitiveQuery reports whether a raw query string names any parameter that
// may carry a credential. Unparseable queries are treated as sensitive.
func SensitiveQuery(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return true
	}
	for k := range values {
		k = strings.ToLower(k)
		for _, s := range sensitiveQueryKeys {
			if strings.Contains(k, s) {
				return true
			}
		}
	}
	return false
}
