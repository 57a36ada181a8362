package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL       string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string

	// LockTimeout and StatementTimeout are applied to every write transaction
	// with SET LOCAL. Expiry surfaces to callers as a retryable busy error.
	LockTimeout      time.Duration
	StatementTimeout time.Duration

	BackfillChunkSize int

	Temporal TemporalConfig
	Archive  ArchiveConfig
}

type TemporalConfig struct {
	Address           string
	Namespace         string
	BackfillTaskQueue string
	TLSCert           string
	TLSKey            string
	TLSCACert         string
	TLSServerName     string
}

// ArchiveConfig points at the object storage bucket that receives snapshots
// of permanently deleted mail. Archiving is off when Bucket is empty.
type ArchiveConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads configuration from the environment. A .env file in the working
// directory is read first if present; variables already set win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", ""),
		Temporal: TemporalConfig{
			Address:           getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
			Namespace:         getEnv("TEMPORAL_NAMESPACE", "default"),
			BackfillTaskQueue: getEnv("BACKFILL_TASK_QUEUE", "mail-backfill"),
			TLSCert:           getEnv("TEMPORAL_TLS_CERT", ""),
			TLSKey:            getEnv("TEMPORAL_TLS_KEY", ""),
			TLSCACert:         getEnv("TEMPORAL_TLS_CA_CERT", ""),
			TLSServerName:     getEnv("TEMPORAL_TLS_SERVER_NAME", ""),
		},
		Archive: ArchiveConfig{
			Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Region:    getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
			AccessKey: getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
		},
	}

	var err error
	if cfg.LockTimeout, err = getEnvDuration("LOCK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatementTimeout, err = getEnvDuration("STATEMENT_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackfillChunkSize, err = getEnvInt("BACKFILL_CHUNK_SIZE", 500); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the settings required by the named binary are present.
func (c *Config) Validate(component string) error {
	switch component {
	case "mail-api", "mailctl":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for %s", component)
		}
	case "mail-worker":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for %s", component)
		}
		if c.Temporal.Address == "" {
			return fmt.Errorf("TEMPORAL_ADDRESS is required for %s", component)
		}
	default:
		return fmt.Errorf("unknown component %q", component)
	}

	if c.BackfillChunkSize <= 0 {
		return fmt.Errorf("BACKFILL_CHUNK_SIZE must be positive, got %d", c.BackfillChunkSize)
	}
	if c.LockTimeout < 0 || c.StatementTimeout < 0 {
		return fmt.Errorf("LOCK_TIMEOUT and STATEMENT_TIMEOUT must not be negative")
	}
	if c.Archive.Enabled() && (c.Archive.AccessKey == "" || c.Archive.SecretKey == "") {
		return fmt.Errorf("ARCHIVE_S3_ACCESS_KEY and ARCHIVE_S3_SECRET_KEY are required when ARCHIVE_S3_BUCKET is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
