package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

const throttleWindow = time.Minute

// RateLimitConfig is a per-client request budget per minute.
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// DefaultAuthRateLimit is the budget for the credential endpoints.
func DefaultAuthRateLimit(ipConfig *pkghttp.IPConfig) RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10, IPConfig: ipConfig}
}

// RateLimitByIP is a coarse volume throttle in front of the lockout limiters.
// It counts every request, successful or not, keyed on the same client address
// the limiters use.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	clientKey := func(r *http.Request) (string, error) {
		return pkghttp.ExtractClientIP(r, config.IPConfig), nil
	}
	tooMany := func(w http.ResponseWriter, _ *http.Request) {
		pkghttp.WriteRateLimited(w, "too many requests", int(throttleWindow.Seconds()))
	}
	return httprate.Limit(config.RequestsPerMinute, throttleWindow,
		httprate.WithKeyFuncs(clientKey),
		httprate.WithLimitHandler(tooMany),
	)
}
