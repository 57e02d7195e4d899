// Package config provides environment-driven configuration for the
// coordinator process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all coordinator configuration, grouped the way the
// teacher's internal/config.Config groups its fields.
type Config struct {
	// Listen
	ListenAddr string

	// Postgres (C2)
	DatabaseDSN       string
	MigrationsPath    string
	DBMaxOpenConns    int
	DBConnMaxIdleTime time.Duration

	// Redis (C3)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Filesystem (C4)
	TestsPath string

	// Signing secrets
	NodeSecret   string
	ClientSecret string

	// Logging
	LogLevel  string
	LogFormat string

	// HTTP server / client tuning
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	NodeRPCTimeout   time.Duration
	JSONBodyLimit    int64
	MultipartLimit   int64
	LockTimeout      time.Duration
	ReadingTimeout   time.Duration
	LockPollInterval time.Duration

	// Metrics
	MetricsEnabled bool
}

// Load reads configuration from the process environment, optionally
// overlaying a local ".env" file if present (teacher pattern: godotenv is
// best-effort, never fatal if the file is missing).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8443"),
		DatabaseDSN:      os.Getenv("DATABASE_DSN"),
		MigrationsPath:   envOr("MIGRATIONS_PATH", "migrations"),
		DBMaxOpenConns:   envOrInt("DB_MAX_OPEN_CONNS", 16),
		DBConnMaxIdleTime: envOrDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		RedisAddr:        envOr("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          envOrInt("REDIS_DB", 0),
		TestsPath:        envOr("TESTS_PATH", "./test_sets"),
		NodeSecret:       os.Getenv("NODE_SECRET"),
		ClientSecret:     os.Getenv("CLIENT_SECRET"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		ReadTimeout:      envOrDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:     envOrDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		NodeRPCTimeout:   envOrDuration("NODE_RPC_TIMEOUT", 10*time.Second),
		JSONBodyLimit:    envOrInt64("JSON_BODY_LIMIT_BYTES", 1<<20),       // 1 MiB
		MultipartLimit:   envOrInt64("MULTIPART_LIMIT_BYTES", 64<<20),     // 64 MiB
		LockTimeout:      envOrDuration("LOCK_TIMEOUT", 30*time.Second),
		ReadingTimeout:   envOrDuration("READING_TIMEOUT", 5*time.Second),
		LockPollInterval: envOrDuration("LOCK_POLL_INTERVAL", time.Second),
		MetricsEnabled:   envOrBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	if c.NodeSecret == "" {
		missing = append(missing, "NODE_SECRET")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
