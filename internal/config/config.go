package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Session backends selectable via SESSION_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	Port string

	// UpstreamBaseURL is the platform API that owns verification and OTPs.
	UpstreamBaseURL string
	UpstreamTimeout time.Duration

	JWTSecret string

	SessionBackend string
	DatabaseURL    string
	RedisAddr      string

	// OTPSendCooldown gates resend after the first dispatch;
	// OTPResendCooldown re-arms the gate after each manual resend.
	OTPSendCooldown   time.Duration
	OTPResendCooldown time.Duration

	// FlowTTL bounds how long an unfinished wizard run is kept.
	FlowTTL time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:              "8080",
		UpstreamTimeout:   10 * time.Second,
		SessionBackend:    BackendPostgres,
		OTPSendCooldown:   60 * time.Second,
		OTPResendCooldown: 30 * time.Second,
		FlowTTL:           15 * time.Minute,
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	cfg.UpstreamBaseURL = os.Getenv("UPSTREAM_BASE_URL")
	if cfg.UpstreamBaseURL == "" {
		return nil, fmt.Errorf("UPSTREAM_BASE_URL environment variable is required")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	if backend := os.Getenv("SESSION_BACKEND"); backend != "" {
		switch backend {
		case BackendPostgres, BackendRedis, BackendMemory:
			cfg.SessionBackend = backend
		default:
			return nil, fmt.Errorf("SESSION_BACKEND must be one of postgres, redis, memory (got %q)", backend)
		}
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.SessionBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required with SESSION_BACKEND=postgres")
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.SessionBackend == BackendRedis && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR environment variable is required with SESSION_BACKEND=redis")
	}

	var err error
	if cfg.UpstreamTimeout, err = durationEnv("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout); err != nil {
		return nil, err
	}
	if cfg.OTPSendCooldown, err = secondsEnv("OTP_SEND_COOLDOWN", cfg.OTPSendCooldown); err != nil {
		return nil, err
	}
	if cfg.OTPResendCooldown, err = secondsEnv("OTP_RESEND_COOLDOWN", cfg.OTPResendCooldown); err != nil {
		return nil, err
	}
	if cfg.FlowTTL, err = durationEnv("FLOW_TTL", cfg.FlowTTL); err != nil {
		return nil, err
	}

	return cfg, nil
}

// durationEnv parses a Go duration string ("10s", "5m") from the env.
func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 10s or 5m: %w", name, err)
	}
	return d, nil
}

// secondsEnv parses a whole number of seconds from the env.
func secondsEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number of seconds (got %q)", name, raw)
	}
	return time.Duration(n) * time.Second, nil
}
