// Package config loads daemon configuration from the environment and the
// SLA profile files the orchestrator enforces.
package config

import (
	"os"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	Environment  string // "dev" or "prod"
	LogLevel     string
	RedisAddr    string
	SQLitePath   string
	AuditDBPath  string
	PollInterval time.Duration
	OTLPEndpoint string
	OTelEnabled  bool
	SLAProfile   string // profile code, e.g. "standard"
	ProfilesDir  string
}

// Load reads configuration from environment variables, applying dev
// defaults for anything unset.
func Load() *Config {
	env := os.Getenv("RATELOCK_ENV")
	if env == "" {
		env = "dev"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "ratelock.db"
	}

	auditPath := os.Getenv("AUDIT_DB_PATH")
	if auditPath == "" {
		auditPath = sqlitePath
	}

	pollInterval := 250 * time.Millisecond
	if raw := os.Getenv("POLL_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			pollInterval = d
		}
	}

	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	profile := os.Getenv("SLA_PROFILE")
	if profile == "" {
		profile = "standard"
	}

	profilesDir := os.Getenv("PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	return &Config{
		Environment:  env,
		LogLevel:     logLevel,
		RedisAddr:    redisAddr,
		SQLitePath:   sqlitePath,
		AuditDBPath:  auditPath,
		PollInterval: pollInterval,
		OTLPEndpoint: otlpEndpoint,
		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		SLAProfile:   profile,
		ProfilesDir:  profilesDir,
	}
}

// IsProd reports whether the daemon runs with production wiring.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
