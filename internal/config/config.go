// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Redis (shared cache, sync queue, distributed locks)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Storage backend ("s3" or "local")
	StorageBackend   string
	LocalStoragePath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Auth
	JWTSecret  string
	APIKeyHash string

	// Resource service
	ResourceMaxSize            int
	ResourceSyncPeriod         time.Duration
	ResourceSyncDelay          time.Duration
	ResourceSyncBatch          int
	ResourceCacheExpiration    time.Duration
	ResourceCompressionMinSize int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),

		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envOr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		StorageBackend:   envOr("STORAGE_BACKEND", "s3"),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "/data/storage"),

		S3Endpoint:  envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:    envOr("S3_BUCKET", "dial"),
		S3AccessKey: envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey: envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:    envOr("S3_REGION", "us-east-1"),
		S3UseSSL:    envBool("S3_USE_SSL", false),

		JWTSecret:  envOr("JWT_SECRET", ""),
		APIKeyHash: envOr("API_KEY_HASH", ""),

		ResourceMaxSize:            envInt("RESOURCE_MAX_SIZE", 1<<20),
		ResourceSyncPeriod:         envMillis("RESOURCE_SYNC_PERIOD", 60_000),
		ResourceSyncDelay:          envMillis("RESOURCE_SYNC_DELAY", 120_000),
		ResourceSyncBatch:          envInt("RESOURCE_SYNC_BATCH", 4096),
		ResourceCacheExpiration:    envMillis("RESOURCE_CACHE_EXPIRATION", 300_000),
		ResourceCompressionMinSize: envInt("RESOURCE_COMPRESSION_MIN_SIZE", 256),
	}

	if cfg.JWTSecret == "" && cfg.APIKeyHash == "" {
		return nil, fmt.Errorf("JWT_SECRET or API_KEY_HASH is required")
	}
	if cfg.StorageBackend != "s3" && cfg.StorageBackend != "local" {
		return nil, fmt.Errorf("unknown STORAGE_BACKEND: %s", cfg.StorageBackend)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

// envMillis reads a duration expressed as integer milliseconds.
func envMillis(key string, fallback int64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallback) * time.Millisecond
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Duration(fallback) * time.Millisecond
	}
	return time.Duration(i) * time.Millisecond
}
