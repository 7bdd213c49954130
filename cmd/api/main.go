package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/background"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/metrics"
	middlewareCustom "github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/routes"
	"github.com/BradenHooton/bastion/internal/services"
	"github.com/BradenHooton/bastion/internal/store"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("store", cfg.Store.Backend),
	)

	ctx := context.Background()

	// Initialize record store
	recordStore, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open record store", slog.Any("error", err))
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}
	defer recordStore.Close()

	metrics.Init()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(recordStore, cfg.Store.CacheSize, cfg.Store.CacheTTL)
	apiKeyRepo := repositories.NewAPIKeyRepository(recordStore, cfg.Store.CacheSize, cfg.Store.CacheTTL)
	eventRepo := repositories.NewSecurityEventRepository(recordStore)
	revocationRepo := repositories.NewSessionRevocationRepository(recordStore)

	// Security event sink
	eventService := services.NewSecurityEventService(eventRepo, services.SecurityEventConfig{
		MaxAge:    cfg.Events.MaxAge,
		MaxEvents: cfg.Events.MaxEvents,
	}, logger)

	// Abuse limiters, one per namespace
	limiters, err := newLimiters(recordStore, cfg.Abuse, eventService, logger)
	if err != nil {
		logger.Error("failed to initialize abuse limiters", slog.Any("error", err))
		os.Exit(1)
	}

	// Credential primitives
	hasher := pkgauth.NewHasher(cfg.Auth.BcryptCost)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingBaseMs,
		RandomDelayMs: cfg.Auth.TimingRandomMs,
	})
	sessionManager := auth.NewSessionManager(cfg.Auth.JWTSecret, cfg.Auth.SessionExpiry)
	csrfGuard := auth.NewCSRFGuard(recordStore, cfg.CSRF.MaxAge)

	mailer, err := newMailer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	apiKeyService := services.NewAPIKeyService(apiKeyRepo, auth.NewAPIKeyManager(), services.APIKeyPolicy{
		DefaultTTL: cfg.APIKeys.DefaultTTL,
		MaxTTL:     cfg.APIKeys.MaxTTL,
	}, eventService, logger)
	resetService := services.NewPasswordResetService(userRepo, services.PasswordResetPolicy{
		TokenTTL:     cfg.Reset.TokenTTL,
		CleanupGrace: cfg.Reset.CleanupGrace,
		BaseURL:      cfg.Reset.BaseURL,
	}, hasher, mailer, limiters.PasswordReset, timingDelay, eventService, logger)
	authService := services.NewAuthService(userRepo, sessionManager, revocationRepo, hasher,
		auth.NewTOTPVerifier(), limiters, timingDelay, eventService, logger)
	adminService := services.NewAdminService(limiters, apiKeyService, eventService, logger)

	// Warm caches from the store
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	warmCaches(warmCtx, logger, userRepo, apiKeyRepo, limiters)
	cancel()

	// Bootstrap first admin user if configured
	adminCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := authService.EnsureAdmin(adminCtx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookies := auth.CookieConfig{
		Secure:   cfg.Auth.CookieSecure,
		SameSite: cfg.Auth.CookieSameSite,
	}
	h := routes.Handlers{
		Auth:          handlers.NewAuthHandler(authService, sessionManager, csrfGuard, cookies, ipConfig, logger),
		PasswordReset: handlers.NewPasswordResetHandler(resetService, ipConfig),
		APIKeys:       handlers.NewAPIKeyHandler(apiKeyService, userRepo.Fresh()),
		Admin:         handlers.NewAdminHandler(adminService, eventService, apiKeyService),
		Health:        handlers.NewHealthHandler(recordStore, logger),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(metrics.Instrument)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middlewareCustom.RateLimitByIP(middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		IPConfig:          ipConfig,
	}))
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, h, routes.Security{
		Sessions:    sessionManager,
		Revocations: revocationRepo,
		Cookies:     cookies,
		CSRF:        csrfGuard,
		APIKeys:     apiKeyService,
		Users:       userRepo.Fresh(),
		Events:      eventService,
		IPConfig:    ipConfig,
		Logger:      logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(
		cleanupTasks(csrfGuard, limiters, apiKeyService, resetService, eventService, revocationRepo),
		logger,
		cfg.Auth.CleanupInterval,
	)
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	cleanupCancel()
	cleanupManager.Stop()

	logger.Info("server stopped gracefully")
}

// openStore connects the configured backend. db is non-nil only for postgres.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, *database.DB, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s := store.NewRedisStore(client, cfg.Redis.Prefix)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return s, nil, nil

	case config.StorePostgres:
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := db.Migrate(migrateCtx, cfg.Database.Table); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store.NewPostgresStore(db.Pool, cfg.Database.Table), db, nil

	default:
		logger.Warn("using in-memory record store; state is lost on restart")
		return store.NewMemoryStore(), nil, nil
	}
}

func newLimiters(s store.Store, cfg config.AbuseConfig, events services.SecurityEventRecorder, logger *slog.Logger) (*services.AbuseLimiters, error) {
	build := func(namespace string, lc config.LimiterConfig) (*services.AbuseLimiter, error) {
		return services.NewAbuseLimiter(namespace, repositories.NewAttemptRepository(s, namespace), services.LimiterPolicy{
			Threshold:    lc.Threshold,
			Schedule:     lc.Schedule,
			IdleTTL:      lc.IdleTTL,
			FastPathSize: lc.FastPathSize,
		}, events, logger)
	}

	login, err := build(models.AbuseNamespaceLogin, cfg.Login)
	if err != nil {
		return nil, err
	}
	reset, err := build(models.AbuseNamespacePasswordReset, cfg.PasswordReset)
	if err != nil {
		return nil, err
	}
	registration, err := build(models.AbuseNamespaceRegistration, cfg.Registration)
	if err != nil {
		return nil, err
	}
	return &services.AbuseLimiters{Login: login, PasswordReset: reset, Registration: registration}, nil
}

func newMailer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.Mailer, error) {
	if cfg.Email.Provider == "ses" {
		mailer, err := services.NewSESMailer(ctx, cfg.Email.Region, cfg.Email.FromAddress, logger)
		if err != nil {
			return nil, err
		}
		return mailer, nil
	}
	return services.NewLogMailer(logger, cfg.Server.Env), nil
}

type refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// warmCaches loads read-through caches and the limiter fast path. Failures are
// logged; the caches fill lazily from the store anyway.
func warmCaches(ctx context.Context, logger *slog.Logger, users, apiKeys refresher, limiters *services.AbuseLimiters) {
	targets := map[string]refresher{
		"users":    users,
		"api_keys": apiKeys,
	}
	for _, l := range limiters.All() {
		targets["limiter_"+l.Namespace()] = l
	}
	for name, r := range targets {
		n, err := r.Refresh(ctx)
		if err != nil {
			logger.Warn("cache warm-up failed", slog.String("cache", name), slog.Any("error", err))
			continue
		}
		logger.Debug("cache warmed", slog.String("cache", name), slog.Int("records", n))
	}
}

func cleanupTasks(
	csrf *auth.CSRFGuard,
	limiters *services.AbuseLimiters,
	apiKeys *services.APIKeyService,
	resets *services.PasswordResetService,
	events *services.SecurityEventService,
	revocations *repositories.SessionRevocationRepository,
) []background.Task {
	tasks := []background.Task{
		{Name: "csrf_sweep", Run: csrf.Sweep},
		{Name: "api_key_expiry", Run: apiKeys.CleanupExpired},
		{Name: "reset_cleanup", Run: resets.Cleanup},
		{Name: "event_retention", Run: events.EnforceRetention},
		{Name: "session_revocations", Run: revocations.CleanupExpired},
	}
	for _, l := range limiters.All() {
		tasks = append(tasks, background.Task{
			Name: fmt.Sprintf("purge_idle_%s", l.Namespace()),
			Run:  l.PurgeIdle,
		})
	}
	return tasks
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
