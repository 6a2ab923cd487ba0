// Package config provides configuration management for the rating service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Lock backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

const (
	// DefaultMaxPayloadSize is the default max request body size for API endpoints (64KB).
	DefaultMaxPayloadSize int64 = 64 * 1024

	// DefaultLockTTL is how long an unrenewed edit lock stays live.
	DefaultLockTTL = 300 * time.Second

	// DefaultSweepInterval is how often expired locks are swept. Zero disables sweeping.
	DefaultSweepInterval = 10 * time.Minute

	// DefaultRatingTolerance is the accepted read-back difference for ratings.
	DefaultRatingTolerance = 1e-6

	// DefaultRatingPolicy accepts half-star ratings between 0.5 and 5.
	DefaultRatingPolicy = "value >= 0.5 && value <= 5.0"

	// DefaultCatalogCacheTTL is how long user and movie lookups are cached.
	DefaultCatalogCacheTTL = 5 * time.Minute

	// DefaultNATSSubject is the subject prefix for rating events.
	DefaultNATSSubject = "ratings"
)

// Config holds the application configuration.
type Config struct {
	// Port is the HTTP server port.
	Port string

	// GRPCPort is the port of the gRPC health server.
	GRPCPort string

	LogLevel  string
	LogPretty bool

	// DatabaseURL is the PostgreSQL connection string. Ratings always live in
	// PostgreSQL; locks do when LockBackend is "postgres".
	DatabaseURL string

	// LockBackend selects the lock store: postgres, redis or memory.
	LockBackend string

	// RedisURL is used when LockBackend is "redis".
	RedisURL string

	LockTTL       time.Duration
	SweepInterval time.Duration

	RatingTolerance float64
	RatingPolicy    string

	// NATSURL enables rating events when set.
	NATSURL     string
	NATSSubject string

	// MaxPayloadSize is the maximum request body size for API endpoints in bytes.
	MaxPayloadSize int64

	CatalogCacheTTL time.Duration
}

// LoadDotEnv loads .env and .env.local from the working directory if present.
// Variables already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		Port:            getEnvOrDefault("PORT", "8080"),
		GRPCPort:        getEnvOrDefault("GRPC_PORT", "9090"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		LogPretty:       getEnvBoolOrDefault("LOG_PRETTY", false),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		LockBackend:     getEnvOrDefault("LOCK_BACKEND", BackendPostgres),
		RedisURL:        getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		LockTTL:         getEnvDurationOrDefault("LOCK_TTL", DefaultLockTTL),
		SweepInterval:   getEnvDurationOrDefault("SWEEP_INTERVAL", DefaultSweepInterval),
		RatingTolerance: getEnvFloatOrDefault("RATING_TOLERANCE", DefaultRatingTolerance),
		RatingPolicy:    getEnvOrDefault("RATING_POLICY", DefaultRatingPolicy),
		NATSURL:         os.Getenv("NATS_URL"),
		NATSSubject:     getEnvOrDefault("NATS_SUBJECT", DefaultNATSSubject),
		MaxPayloadSize:  getEnvInt64OrDefault("MAX_PAYLOAD_SIZE", DefaultMaxPayloadSize),
		CatalogCacheTTL: getEnvDurationOrDefault("CATALOG_CACHE_TTL", DefaultCatalogCacheTTL),
	}

	return cfg
}

// Validate reports configuration the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.LockBackend {
	case BackendPostgres, BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis lock backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("LOCK_TTL must be positive"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must not be negative"))
	}
	if c.RatingTolerance < 0 {
		errs = append(errs, errors.New("RATING_TOLERANCE must not be negative"))
	}

	return errors.Join(errs...)
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

// getEnvFloatOrDefault returns the environment variable value as float64 or the default if not set or invalid.
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

// getEnvDurationOrDefault accepts Go durations ("90s") or plain seconds ("90").
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
