package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	os.Clearenv()
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"CSRF.MaxAge", cfg.CSRF.MaxAge, time.Hour},
		{"Reset.TokenTTL", cfg.Reset.TokenTTL, time.Hour},
		{"Reset.CleanupGrace", cfg.Reset.CleanupGrace, 24 * time.Hour},
		{"Abuse.Login.IdleTTL", cfg.Abuse.Login.IdleTTL, 7 * 24 * time.Hour},
		{"Events.MaxAge", cfg.Events.MaxAge, 30 * 24 * time.Hour},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Store.Backend != StoreMemory {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, StoreMemory)
	}
	if cfg.Abuse.Login.Threshold != 3 {
		t.Errorf("Abuse.Login.Threshold = %d, want 3", cfg.Abuse.Login.Threshold)
	}
	if len(cfg.Abuse.Login.Schedule) != len(DefaultLockoutSchedule) {
		t.Errorf("Abuse.Login.Schedule has %d entries, want %d", len(cfg.Abuse.Login.Schedule), len(DefaultLockoutSchedule))
	}
	if cfg.Events.MaxEvents != 10000 {
		t.Errorf("Events.MaxEvents = %d, want 10000", cfg.Events.MaxEvents)
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for missing JWT_SECRET")
	}
}

func TestLoad_CustomSchedule(t *testing.T) {
	setRequired(t)
	os.Setenv("ABUSE_LOGIN_SCHEDULE", "1m, 2m,2m,1d")
	os.Setenv("ABUSE_LOGIN_THRESHOLD", "5")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	want := []time.Duration{time.Minute, 2 * time.Minute, 2 * time.Minute, 24 * time.Hour}
	if len(cfg.Abuse.Login.Schedule) != len(want) {
		t.Fatalf("schedule = %v, want %v", cfg.Abuse.Login.Schedule, want)
	}
	for i := range want {
		if cfg.Abuse.Login.Schedule[i] != want[i] {
			t.Errorf("schedule[%d] = %v, want %v", i, cfg.Abuse.Login.Schedule[i], want[i])
		}
	}
	if cfg.Abuse.Login.Threshold != 5 {
		t.Errorf("threshold = %d, want 5", cfg.Abuse.Login.Threshold)
	}
	// Other namespaces keep their defaults
	if cfg.Abuse.PasswordReset.Schedule[0] != 5*time.Minute {
		t.Errorf("password_reset schedule[0] = %v, want 5m", cfg.Abuse.PasswordReset.Schedule[0])
	}
}

func TestLoad_RejectsDecreasingSchedule(t *testing.T) {
	setRequired(t)
	os.Setenv("ABUSE_REGISTRATION_SCHEDULE", "1h,5m")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for decreasing schedule")
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule []time.Duration
		wantErr  bool
	}{
		{"default", DefaultLockoutSchedule, false},
		{"single entry", []time.Duration{time.Minute}, false},
		{"equal neighbors", []time.Duration{time.Minute, time.Minute}, false},
		{"empty", nil, true},
		{"decreasing", []time.Duration{time.Hour, time.Minute}, true},
		{"zero entry", []time.Duration{0, time.Minute}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%v) error = %v, wantErr %v", tt.schedule, err, tt.wantErr)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	nets, err := ParseTrustedProxies("10.0.0.0/8, 192.168.1.5,::1")
	if err != nil {
		t.Fatalf("ParseTrustedProxies() = %v", err)
	}
	if len(nets) != 3 {
		t.Fatalf("got %d networks, want 3", len(nets))
	}
	if nets[1].String() != "192.168.1.5/32" {
		t.Errorf("bare IPv4 = %s, want 192.168.1.5/32", nets[1])
	}
	if nets[2].String() != "::1/128" {
		t.Errorf("bare IPv6 = %s, want ::1/128", nets[2])
	}

	if _, err := ParseTrustedProxies("not-an-ip"); err == nil {
		t.Error("ParseTrustedProxies(not-an-ip) = nil, want error")
	}
}

func TestLoad_StoreBackendValidation(t *testing.T) {
	setRequired(t)
	os.Setenv("STORE_BACKEND", "postgres")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error when postgres store has no DB_PASSWORD")
	}

	os.Setenv("DB_PASSWORD", "secret-password")
	if _, err := Load(); err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	os.Setenv("STORE_BACKEND", "etcd")
	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for unknown backend")
	}
}

func TestLoad_MemoryStoreRejectedInProduction(t *testing.T) {
	setRequired(t)
	os.Setenv("ENV", "production")
	os.Setenv("JWT_SECRET", "a-production-secret-that-is-long-enough")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for memory store in production")
	}
}

func TestLoad_RejectsNonPositiveDurations(t *testing.T) {
	cases := map[string]string{
		"CLEANUP_INTERVAL":       "0s",
		"RESET_TOKEN_TTL":        "-1h",
		"API_KEY_DEFAULT_TTL":    "0s",
		"SECURITY_EVENT_MAX_AGE": "-24h",
		"SESSION_EXPIRY":         "0s",
		"CSRF_MAX_AGE":           "-1m",
		"ABUSE_LOGIN_IDLE_TTL":   "0s",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			defer os.Clearenv()
			os.Setenv(key, value)

			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%s = nil, want error", key, value)
			}
		})
	}
}

func TestLoad_AllowsZeroResetGrace(t *testing.T) {
	setRequired(t)
	defer os.Clearenv()
	os.Setenv("RESET_CLEANUP_GRACE", "0s")

	if _, err := Load(); err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
}
