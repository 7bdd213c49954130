package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Auth          *handlers.AuthHandler
	PasswordReset *handlers.PasswordResetHandler
	APIKeys       *handlers.APIKeyHandler
	Admin         *handlers.AdminHandler
	Health        *handlers.HealthHandler
}

// Security groups what the authentication middleware needs
type Security struct {
	Sessions    *auth.SessionManager
	Revocations auth.SessionRevocationChecker
	Cookies     auth.CookieConfig
	CSRF        middleware.CSRFValidator
	APIKeys     auth.APIKeyValidator
	Users       auth.UserRepository
	Events      auth.SecurityEventRecorder
	IPConfig    *pkghttp.IPConfig
	Logger      *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, sec Security) {
	// Rate limiting config for auth endpoints
	rateLimitConfig := middleware.DefaultAuthRateLimit(sec.IPConfig)
	authRateLimit := middleware.RateLimitByIP(rateLimitConfig)

	router.Get("/health", h.Health.Health)
	router.Handle("/metrics", metrics.Handler())

	// Browser routes: session cookie + CSRF on every state change
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(sec.Sessions, sec.Revocations, sec.Cookies, sec.Logger))
		r.Use(middleware.CSRFProtection(sec.CSRF, sec.Events, sec.IPConfig, sec.Logger))

		r.Get("/auth/csrf-token", h.Auth.CSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(authRateLimit)
			r.Post("/auth/login", h.Auth.Login)
			r.Post("/auth/register", h.Auth.Register)
			r.Post("/auth/password/forgot", h.PasswordReset.Forgot)
			r.Get("/auth/password/reset/{token}", h.PasswordReset.CheckToken)
			r.Post("/auth/password/reset", h.PasswordReset.Reset)
		})

		// Any authenticated user
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession)

			r.Post("/auth/logout", h.Auth.Logout)

			r.Route("/api-keys", func(r chi.Router) {
				r.Post("/", h.APIKeys.CreateAPIKey)
				r.Get("/", h.APIKeys.ListAPIKeys)
				r.Get("/{id}", h.APIKeys.GetAPIKey)
				r.Delete("/{id}", h.APIKeys.RevokeAPIKey)
			})
		})

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(sec.Users, models.RoleAdmin))

			r.Get("/dashboard/stats", h.Admin.GetDashboardStats)
			r.Get("/dashboard/activity", h.Admin.GetRecentActivity)
			r.Get("/lockouts", h.Admin.ListLockouts)
			r.Delete("/lockouts/{namespace}/{identity}", h.Admin.ClearLockout)
			r.Get("/api-keys", h.Admin.ListAPIKeys)
			r.Delete("/api-keys/{id}", h.Admin.RevokeAPIKey)
			r.Get("/security-events", h.Admin.ListSecurityEvents)
			r.Get("/security-events/export", h.Admin.ExportSecurityEvents)
		})
	})

	// Machine routes: API key only, no cookies
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.APIKeyMiddleware(sec.APIKeys, sec.Events, sec.IPConfig, sec.Logger))

		r.With(auth.RequirePermissions(sec.Events, sec.IPConfig, models.PermissionKeysRead)).
			Get("/whoami", h.APIKeys.WhoAmI)
	})
}
