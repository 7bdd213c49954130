package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecureLogger_RedactsResetTokenPath(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := SecureLogger(logger, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/auth/password/reset/s3cr3t-token-value", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.NotContains(t, out, "s3cr3t-token-value")
	assert.Contains(t, out, "/auth/password/reset/[REDACTED]")
	assert.Contains(t, out, `"status":200`)
}

func TestSecureLogger_RedactsSensitiveQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := SecureLogger(logger, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami?key=bst_abcdef", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotContains(t, buf.String(), "bst_abcdef")
	assert.Contains(t, buf.String(), "?[REDACTED]")
}

func TestSecureLogger_KeepsOrdinaryPaths(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := SecureLogger(logger, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=1", nil)
	req.RemoteAddr = "192.0.2.44:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), "/health?verbose=1")
	assert.Contains(t, buf.String(), "192.0.2.44")
}
