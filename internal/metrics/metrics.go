// Package metrics holds the Prometheus collectors for the credential core.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SecurityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_security_events_total",
			Help: "Security events recorded, by type and severity.",
		},
		[]string{"event_type", "severity"},
	)

	SecurityEventWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_security_event_write_failures_total",
		Help: "Security events that could not be persisted to the store.",
	})

	LockoutsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_lockouts_active",
			Help: "Identities currently held in the lockout fast path, by namespace.",
		},
		[]string{"namespace"},
	)

	APIKeyValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_api_key_validations_total",
			Help: "API key validations, by result.",
		},
		[]string{"result"},
	)

	CleanupRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_cleanup_removed_total",
			Help: "Records removed or deactivated by background maintenance, by task.",
		},
		[]string{"task"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bastion_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call twice.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SecurityEvents,
			SecurityEventWriteFailures,
			LockoutsActive,
			APIKeyValidations,
			CleanupRemoved,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count and latency keyed by the chi route pattern,
// so path parameters (key ids, tokens) never become label values.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
