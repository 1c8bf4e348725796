package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lockdesk/ratelock/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("RATELOCK_ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("AUDIT_DB_PATH", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("SLA_PROFILE", "")

	cfg := config.Load()

	assert.Equal(t, "dev", cfg.Environment)
	assert.False(t, cfg.IsProd())
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "ratelock.db", cfg.SQLitePath)
	assert.Equal(t, cfg.SQLitePath, cfg.AuditDBPath)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, "standard", cfg.SLAProfile)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RATELOCK_ENV", "prod")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SQLITE_PATH", "/var/lib/ratelock/locks.db")
	t.Setenv("AUDIT_DB_PATH", "/var/lib/ratelock/audit.db")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("SLA_PROFILE", "expedited")

	cfg := config.Load()

	assert.Equal(t, "prod", cfg.Environment)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, "/var/lib/ratelock/locks.db", cfg.SQLitePath)
	assert.Equal(t, "/var/lib/ratelock/audit.db", cfg.AuditDBPath)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, "expedited", cfg.SLAProfile)
}

// TestLoad_BadPollInterval verifies an unparseable interval falls back to
// the default instead of breaking startup.
func TestLoad_BadPollInterval(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "often")

	cfg := config.Load()
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
}
