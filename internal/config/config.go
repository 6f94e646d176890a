// Package config provides configuration management for the editlock-service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Lock backend names accepted by LOCK_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const (
	// DefaultLockTTL is the editing window granted on acquire.
	DefaultLockTTL = 15 * time.Minute

	// DefaultClockSkewTolerance is how much inter-process clock drift is
	// treated as non-expiring.
	DefaultClockSkewTolerance = 2 * time.Second

	// DefaultMaxPayloadSize is the default max request body size for the lock
	// API (64KB); lock requests carry only identifiers.
	DefaultMaxPayloadSize int64 = 64 * 1024
)

// Config holds the application configuration.
type Config struct {
	// Port is the HTTP server port.
	Port string

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string

	// LogPretty enables console-formatted log output for development.
	LogPretty bool

	// LockBackend selects the lock store: memory, postgres, or redis.
	LockBackend string

	// DatabaseURL is the PostgreSQL connection string for the postgres backend.
	DatabaseURL string

	// RedisAddr is the Redis address for the redis backend.
	RedisAddr string

	// LockTTL is the editing window granted on acquire and on each renew.
	LockTTL time.Duration

	// ClockSkewTolerance widens the expiry check to absorb clock drift.
	ClockSkewTolerance time.Duration

	// MaxPayloadSize is the maximum request body size in bytes.
	MaxPayloadSize int64

	// LifecycleSecret signs lifecycle callbacks (user removal, session end).
	// Empty disables signature verification.
	LifecycleSecret string
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		LogPretty:          getEnvBoolOrDefault("LOG_PRETTY", false),
		LockBackend:        getEnvOrDefault("LOCK_BACKEND", BackendMemory),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		LockTTL:            getEnvDurationOrDefault("LOCK_TTL", DefaultLockTTL),
		ClockSkewTolerance: getEnvDurationOrDefault("CLOCK_SKEW_TOLERANCE", DefaultClockSkewTolerance),
		MaxPayloadSize:     getEnvInt64OrDefault("MAX_PAYLOAD_SIZE", DefaultMaxPayloadSize),
		LifecycleSecret:    os.Getenv("LIFECYCLE_SECRET"),
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt64OrDefault returns the environment variable value as int64 or the default if not set or invalid.
func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable value as bool or the default if not set or invalid.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable value as a duration
// (Go syntax, e.g. "15m") or the default if not set or invalid.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
