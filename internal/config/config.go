package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Store    StoreConfig
	Server   ServerConfig
	Auth     AuthConfig
	CSRF     CSRFConfig
	Abuse    AbuseConfig
	APIKeys  APIKeyConfig
	Reset    ResetConfig
	Events   EventsConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	Table             string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type StoreConfig struct {
	Backend   string
	CacheSize int
	CacheTTL  time.Duration
}

type ServerConfig struct {
	Port              string
	Env               string
	LogLevel          string
	AllowedOrigins    []string
	TrustedProxies    []*net.IPNet
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerMinute int
}

type AuthConfig struct {
	JWTSecret       string
	SessionExpiry   time.Duration
	CookieSecure    bool
	CookieSameSite  string // "strict", "lax", or "none"
	CleanupInterval time.Duration
	TimingBaseMs    int
	TimingRandomMs  int
	AdminEmail      string
	AdminPassword   string
	BcryptCost      int
}

type CSRFConfig struct {
	MaxAge time.Duration
}

// LimiterConfig configures one abuse limiter namespace.
type LimiterConfig struct {
	Threshold    int
	Schedule     []time.Duration
	IdleTTL      time.Duration
	FastPathSize int
}

type AbuseConfig struct {
	Login         LimiterConfig
	PasswordReset LimiterConfig
	Registration  LimiterConfig
}

type APIKeyConfig struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

type ResetConfig struct {
	TokenTTL     time.Duration
	CleanupGrace time.Duration
	BaseURL      string
}

type EventsConfig struct {
	MaxAge    time.Duration
	MaxEvents int
}

type EmailConfig struct {
	Provider    string // "ses" or "log"
	Region      string
	FromAddress string
}

// DefaultLockoutSchedule is the escalating block duration applied once the
// failure threshold is reached.
var DefaultLockoutSchedule = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	trustedProxies, err := ParseTrustedProxies(getEnv("TRUSTED_PROXIES", ""))
	if err != nil {
		return nil, err
	}

	abuse, err := loadAbuseConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			Table:             getEnv("DB_KV_TABLE", "kv_records"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "bastion:"),
		},
		Store: StoreConfig{
			Backend:   getEnv("STORE_BACKEND", StoreMemory),
			CacheSize: getEnvAsInt("STORE_CACHE_SIZE", 10000),
			CacheTTL:  getEnvAsDuration("STORE_CACHE_TTL", 10*time.Minute),
		},
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Env:               env,
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:    parseAllowedOrigins(env),
			TrustedProxies:    trustedProxies,
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestsPerMinute: getEnvAsInt("REQUESTS_PER_MINUTE", 120),
		},
		Auth: AuthConfig{
			JWTSecret:       jwtSecret,
			SessionExpiry:   getEnvAsDuration("SESSION_EXPIRY", 12*time.Hour),
			CookieSecure:    getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:  strings.ToLower(getEnv("COOKIE_SAMESITE", "strict")),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 15*time.Minute),
			TimingBaseMs:    getEnvAsInt("AUTH_TIMING_BASE_MS", 250),
			TimingRandomMs:  getEnvAsInt("AUTH_TIMING_RANDOM_MS", 100),
			AdminEmail:      getEnv("ADMIN_EMAIL", ""),
			AdminPassword:   getEnv("ADMIN_PASSWORD", ""),
			BcryptCost:      getEnvAsInt("BCRYPT_COST", 14),
		},
		CSRF: CSRFConfig{
			MaxAge: getEnvAsDuration("CSRF_MAX_AGE", 1*time.Hour),
		},
		Abuse: abuse,
		APIKeys: APIKeyConfig{
			DefaultTTL: getEnvAsDuration("API_KEY_DEFAULT_TTL", 90*24*time.Hour),
			MaxTTL:     getEnvAsDuration("API_KEY_MAX_TTL", 365*24*time.Hour),
		},
		Reset: ResetConfig{
			TokenTTL:     getEnvAsDuration("RESET_TOKEN_TTL", 1*time.Hour),
			CleanupGrace: getEnvAsDuration("RESET_CLEANUP_GRACE", 24*time.Hour),
			BaseURL:      getEnv("APP_BASE_URL", "http://localhost:8080"),
		},
		Events: EventsConfig{
			MaxAge:    getEnvAsDuration("SECURITY_EVENT_MAX_AGE", 30*24*time.Hour),
			MaxEvents: getEnvAsInt("SECURITY_EVENT_MAX_EVENTS", 10000),
		},
		Email: EmailConfig{
			Provider:    getEnv("EMAIL_PROVIDER", "log"),
			Region:      getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM", "no-reply@localhost"),
		},
	}

	if err := validateStore(cfg); err != nil {
		return nil, err
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := validateDurations(cfg); err != nil {
		return nil, err
	}

	if cfg.APIKeys.DefaultTTL > cfg.APIKeys.MaxTTL {
		return nil, fmt.Errorf("API_KEY_DEFAULT_TTL (%s) exceeds API_KEY_MAX_TTL (%s)",
			cfg.APIKeys.DefaultTTL, cfg.APIKeys.MaxTTL)
	}

	return cfg, nil
}

// validateDurations rejects zero or negative lifetimes and intervals. A
// non-positive ticker interval panics, and a non-positive TTL issues
// credentials that are already expired.
func validateDurations(cfg *Config) error {
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout},
		{"SESSION_EXPIRY", cfg.Auth.SessionExpiry},
		{"CLEANUP_INTERVAL", cfg.Auth.CleanupInterval},
		{"CSRF_MAX_AGE", cfg.CSRF.MaxAge},
		{"API_KEY_DEFAULT_TTL", cfg.APIKeys.DefaultTTL},
		{"API_KEY_MAX_TTL", cfg.APIKeys.MaxTTL},
		{"RESET_TOKEN_TTL", cfg.Reset.TokenTTL},
		{"SECURITY_EVENT_MAX_AGE", cfg.Events.MaxAge},
		{"ABUSE_LOGIN_IDLE_TTL", cfg.Abuse.Login.IdleTTL},
		{"ABUSE_PASSWORD_RESET_IDLE_TTL", cfg.Abuse.PasswordReset.IdleTTL},
		{"ABUSE_REGISTRATION_IDLE_TTL", cfg.Abuse.Registration.IdleTTL},
	}
	for _, d := range positive {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive (got %s)", d.name, d.value)
		}
	}
	if cfg.Reset.CleanupGrace < 0 {
		return fmt.Errorf("RESET_CLEANUP_GRACE must not be negative (got %s)", cfg.Reset.CleanupGrace)
	}
	return nil
}

func validateStore(cfg *Config) error {
	switch cfg.Store.Backend {
	case StoreMemory:
		if cfg.Server.Env == "production" {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
	case StoreRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis store")
		}
	case StorePostgres:
		if cfg.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
	return nil
}

func loadAbuseConfig() (AbuseConfig, error) {
	var abuse AbuseConfig
	var err error

	if abuse.Login, err = loadLimiterConfig("LOGIN", 3); err != nil {
		return abuse, err
	}
	if abuse.PasswordReset, err = loadLimiterConfig("PASSWORD_RESET", 3); err != nil {
		return abuse, err
	}
	if abuse.Registration, err = loadLimiterConfig("REGISTRATION", 5); err != nil {
		return abuse, err
	}
	return abuse, nil
}

// loadLimiterConfig reads ABUSE_<NS>_THRESHOLD, ABUSE_<NS>_SCHEDULE and ABUSE_<NS>_IDLE_TTL.
func loadLimiterConfig(namespace string, defaultThreshold int) (LimiterConfig, error) {
	prefix := "ABUSE_" + namespace + "_"

	schedule := DefaultLockoutSchedule
	if raw := os.Getenv(prefix + "SCHEDULE"); raw != "" {
		parsed, err := ParseSchedule(raw)
		if err != nil {
			return LimiterConfig{}, fmt.Errorf("%sSCHEDULE: %w", prefix, err)
		}
		schedule = parsed
	}

	lc := LimiterConfig{
		Threshold:    getEnvAsInt(prefix+"THRESHOLD", defaultThreshold),
		Schedule:     schedule,
		IdleTTL:      getEnvAsDuration(prefix+"IDLE_TTL", 7*24*time.Hour),
		FastPathSize: getEnvAsInt(prefix+"FAST_PATH_SIZE", 10000),
	}
	if err := lc.Validate(); err != nil {
		return LimiterConfig{}, fmt.Errorf("abuse limiter %s: %w", strings.ToLower(namespace), err)
	}
	return lc, nil
}

// Validate checks threshold and schedule shape.
func (lc LimiterConfig) Validate() error {
	if lc.Threshold < 1 {
		return fmt.Errorf("threshold must be at least 1 (got %d)", lc.Threshold)
	}
	return ValidateSchedule(lc.Schedule)
}

// ParseSchedule parses a comma-separated list of durations, e.g. "5m,15m,1h".
// Day suffixes ("7d") are accepted.
func ParseSchedule(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	schedule := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := parseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule entry %q: %w", part, err)
		}
		schedule = append(schedule, d)
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// ValidateSchedule requires a non-empty, positive, non-decreasing schedule.
func ValidateSchedule(schedule []time.Duration) error {
	if len(schedule) == 0 {
		return fmt.Errorf("schedule must not be empty")
	}
	for i, d := range schedule {
		if d <= 0 {
			return fmt.Errorf("schedule entry %d must be positive", i)
		}
		if i > 0 && d < schedule[i-1] {
			return fmt.Errorf("schedule must be non-decreasing (entry %d: %s < %s)", i, d, schedule[i-1])
		}
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// ParseTrustedProxies parses a comma-separated CIDR list. Bare IPs become /32 or /128.
func ParseTrustedProxies(raw string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q", part)
			}
			if ip.To4() != nil {
				part += "/32"
			} else {
				part += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: invalid CIDR %q: %w", part, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := parseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
