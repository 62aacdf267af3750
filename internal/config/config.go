// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxPasswordBytes matches the login input gate; a longer password could be set but never used.
const maxPasswordBytes = 128

// Config holds all env configuration vars for the launchpad auth service.
// Built once at startup and treated as read-only afterwards.
type Config struct {
	DatabaseURL string
	// RedisURL is optional. Empty selects the in-process rate limiter and direct audit writes.
	RedisURL     string
	Port         string
	AppEnv       string
	AppName      string
	CookieSecure bool
	CookieDomain string
	LogLevel     slog.Level

	// SessionTTL is the absolute session lifetime. Default 12h.
	SessionTTL time.Duration

	// Login token bucket per client IP. Defaults: max=5, window=1m.
	RateLoginMax    int
	RateLoginWindow time.Duration

	// Account lockout. Defaults: threshold=5, duration=15m.
	LockoutThreshold int
	LockoutDuration  time.Duration

	// New-password policy. Defaults: min=12, max=128, no class gates.
	PasswordMinLength      int
	PasswordMaxLength      int
	PasswordRequireUpper   bool
	PasswordRequireDigit   bool
	PasswordRequireSpecial bool

	// Temporary passwords from admin resets. Empty charset means the built-in one.
	TempPasswordLength  int
	TempPasswordCharset string

	// AuditQueueMax caps the Redis audit queue. Default 10000.
	AuditQueueMax int

	// Expired sessions older than the retention are purged every interval. Defaults: 1h / 24h.
	SessionCleanupInterval  time.Duration
	SessionCleanupRetention time.Duration

	// Seed a SUPER_ADMIN when absent. Both empty disables seeding.
	BootstrapAdminUsername string
	BootstrapAdminPassword string
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if DATABASE_URL is missing or settings contradict each other.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.Port = envString("PORT", "7865")
	cfg.AppEnv = strings.ToLower(envString("APP_ENV", "development"))
	cfg.AppName = envString("APP_NAME", "Company App Portal")
	cfg.CookieDomain = os.Getenv("COOKIE_DOMAIN")

	// Production always gets secure cookies; elsewhere COOKIE_SECURE decides.
	cfg.CookieSecure = envBool("COOKIE_SECURE", cfg.AppEnv == "production")
	if cfg.AppEnv == "production" && !cfg.CookieSecure {
		slog.Warn("COOKIE_SECURE=false ignored in production")
		cfg.CookieSecure = true
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.SessionTTL = envDuration("SESSION_TTL", 12*time.Hour)

	// Invalid values fall back to defaults so a misconfigured env never disables limiting.
	cfg.RateLoginMax = envInt("RATE_LOGIN_MAX", 5)
	cfg.RateLoginWindow = envDuration("RATE_LOGIN_WINDOW", time.Minute)
	if cfg.RateLoginWindow < time.Millisecond {
		return nil, fmt.Errorf("RATE_LOGIN_WINDOW must be at least 1ms")
	}

	cfg.LockoutThreshold = envInt("LOCKOUT_THRESHOLD", 5)
	cfg.LockoutDuration = envDuration("LOCKOUT_DURATION", 15*time.Minute)

	cfg.PasswordMinLength = envInt("PASSWORD_MIN_LENGTH", 12)
	cfg.PasswordMaxLength = envInt("PASSWORD_MAX_LENGTH", maxPasswordBytes)
	cfg.PasswordRequireUpper = envBool("PASSWORD_REQUIRE_UPPER", false)
	cfg.PasswordRequireDigit = envBool("PASSWORD_REQUIRE_DIGIT", false)
	cfg.PasswordRequireSpecial = envBool("PASSWORD_REQUIRE_SPECIAL", false)
	if cfg.PasswordMaxLength > maxPasswordBytes {
		return nil, fmt.Errorf("PASSWORD_MAX_LENGTH must be at most %d", maxPasswordBytes)
	}
	if cfg.PasswordMinLength > cfg.PasswordMaxLength {
		return nil, fmt.Errorf("PASSWORD_MIN_LENGTH (%d) exceeds PASSWORD_MAX_LENGTH (%d)", cfg.PasswordMinLength, cfg.PasswordMaxLength)
	}

	cfg.TempPasswordLength = envInt("TEMP_PASSWORD_LENGTH", 16)
	cfg.TempPasswordCharset = os.Getenv("TEMP_PASSWORD_CHARSET")
	if cfg.TempPasswordLength < cfg.PasswordMinLength || cfg.TempPasswordLength > cfg.PasswordMaxLength {
		return nil, fmt.Errorf("TEMP_PASSWORD_LENGTH (%d) must be within the password length policy", cfg.TempPasswordLength)
	}

	cfg.AuditQueueMax = envInt("AUDIT_QUEUE_MAX", 10000)
	cfg.SessionCleanupInterval = envDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.SessionCleanupRetention = envDuration("SESSION_CLEANUP_RETENTION", 24*time.Hour)

	cfg.BootstrapAdminUsername = strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_USERNAME"))
	cfg.BootstrapAdminPassword = os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")
	if (cfg.BootstrapAdminUsername == "") != (cfg.BootstrapAdminPassword == "") {
		return nil, fmt.Errorf("BOOTSTRAP_ADMIN_USERNAME and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}

	return cfg, nil
}

// envString reads an env var, returning def if missing.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envBool reads an env var as bool (strconv.ParseBool forms), returning def if missing or unparseable.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}
