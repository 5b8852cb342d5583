package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// StorageConfig defines the blob store layout for papers, plate images and
// tracker snapshots.
type StorageConfig struct {
	Bucket           string
	Region           string
	PublicBaseURL    string // base for public object URLs; empty means the bucket's virtual-hosted URL
	PapersRoot       string // prefix for uploaded PDFs and extracted images
	SnapshotRoot     string // prefix for tracker snapshots
	SessionID        string // namespace for one accumulation session (snapshot name)
	SnapshotPassword string // non-empty enables AES-GCM encryption of the snapshot at rest
}

// ProviderModels defines primary/secondary model names for an oracle provider.
type ProviderModels struct {
	Primary   string
	Secondary string
}

// OracleConfig defines engines, models and limits for structured extraction.
type OracleConfig struct {
	PrimaryEngine   string // "openai"|"anthropic"
	SecondaryEngine string // "anthropic"|"openai"
	OpenAI          ProviderModels
	Anthropic       ProviderModels
	RequestTimeout  time.Duration
	MaxInflight     int
	BreakerBase     time.Duration
	BreakerMax      time.Duration
}

// RedisConfig defines redis connectivity for step status tracking and the
// single-writer pipeline lock.
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Storage StorageConfig
	Oracle  OracleConfig
	Redis   RedisConfig
	Port    string
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/diatomatlas.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_diatomatlas",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Storage = StorageConfig{
		Bucket:           getEnv("ATLAS_S3_BUCKET", "diatom-papers-dev"),
		Region:           getEnv("AWS_REGION", ""),
		PublicBaseURL:    getEnv("ATLAS_PUBLIC_BASE_URL", ""),
		PapersRoot:       strings.Trim(getEnv("ATLAS_PAPERS_ROOT", "papers"), "/"),
		SnapshotRoot:     strings.Trim(getEnv("ATLAS_SNAPSHOT_ROOT", "trackers"), "/"),
		SessionID:        getEnv("ATLAS_SESSION_ID", "default"),
		SnapshotPassword: getEnv("ATLAS_SNAPSHOT_PASSWORD", ""),
	}

	cfg.Oracle = OracleConfig{
		PrimaryEngine:   getEnv("PRIMARY_ENGINE", "openai"),
		SecondaryEngine: getEnv("SECONDARY_ENGINE", "anthropic"),
		OpenAI: ProviderModels{
			Primary:   getEnv("OPENAI_PRIMARY_MODEL", "gpt-4.1"),
			Secondary: getEnv("OPENAI_SECONDARY_MODEL", "gpt-4o"),
		},
		Anthropic: ProviderModels{
			Primary:   getEnv("ANTHROPIC_PRIMARY_MODEL", "claude-3-5-sonnet"),
			Secondary: getEnv("ANTHROPIC_SECONDARY_MODEL", "claude-3-haiku"),
		},
		RequestTimeout: parseDuration(getEnv("ORACLE_TIMEOUT", "90s"), 90*time.Second),
		MaxInflight:    parseInt(getEnv("ORACLE_MAX_INFLIGHT", "2"), 2),
		BreakerBase:    parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMax:     parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	cfg.Redis = RedisConfig{
		URL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		LockTTL: parseDuration(getEnv("PIPELINE_LOCK_TTL", "5m"), 5*time.Minute),
	}

	cfg.Port = getEnv("PORT", "8080")

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
