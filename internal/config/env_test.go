package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "papers", cfg.Storage.PapersRoot)
	assert.Equal(t, "trackers", cfg.Storage.SnapshotRoot)
	assert.Equal(t, "default", cfg.Storage.SessionID)
	assert.Equal(t, "openai", cfg.Oracle.PrimaryEngine)
	assert.Equal(t, "anthropic", cfg.Oracle.SecondaryEngine)
	assert.Equal(t, 90*time.Second, cfg.Oracle.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Redis.LockTTL)
	assert.Equal(t, "8080", cfg.Port)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ATLAS_SESSION_ID", "batch-42")
	t.Setenv("ATLAS_PAPERS_ROOT", "/uploads/")
	t.Setenv("ORACLE_TIMEOUT", "2m")
	t.Setenv("ORACLE_MAX_INFLIGHT", "5")
	t.Setenv("PIPELINE_LOCK_TTL", "90s")

	cfg := FromEnv()
	assert.Equal(t, "batch-42", cfg.Storage.SessionID)
	// prefixes are stored without surrounding slashes
	assert.Equal(t, "uploads", cfg.Storage.PapersRoot)
	assert.Equal(t, 2*time.Minute, cfg.Oracle.RequestTimeout)
	assert.Equal(t, 5, cfg.Oracle.MaxInflight)
	assert.Equal(t, 90*time.Second, cfg.Redis.LockTTL)
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, 7, parseInt("7", 0))
	assert.Equal(t, 3, parseInt("junk", 3))
	assert.True(t, parseBool("TRUE"))
	assert.True(t, parseBool("1"))
	assert.False(t, parseBool("no"))
	assert.Equal(t, time.Minute, parseDuration("1m", 0))
	assert.Equal(t, 5*time.Second, parseDuration("junk", 5*time.Second))
}
