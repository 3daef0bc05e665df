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

// applyEnv fills the operational knobs that live in the environment rather
// than in config.json, and lets the environment override a few file values.
func applyEnv(cfg *Config) {
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/aihelper.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "20"), 20),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "5"), 5),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_aihelper",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.HTTPAddr = getEnv("AIHELPER_HTTP_ADDR", cfg.HTTPAddr)
	cfg.Archive.RedisURL = getEnv("REDIS_URL", cfg.Archive.RedisURL)
	cfg.Archive.SessionTTL = parseDuration(getEnv("SESSION_TTL", ""), cfg.Archive.SessionTTL)
	cfg.Archive.S3Bucket = getEnv("ARCHIVE_S3_BUCKET", cfg.Archive.S3Bucket)
	cfg.Archive.S3Region = getEnv("AWS_REGION", cfg.Archive.S3Region)
	cfg.Archive.S3Endpoint = getEnv("ARCHIVE_S3_ENDPOINT", cfg.Archive.S3Endpoint)
	cfg.Archive.AccessKey = getEnv("ARCHIVE_S3_ACCESS_KEY", cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = getEnv("ARCHIVE_S3_SECRET_KEY", cfg.Archive.SecretKey)
	cfg.Archive.Password = getEnv("ARCHIVE_PASSWORD", cfg.Archive.Password)
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
