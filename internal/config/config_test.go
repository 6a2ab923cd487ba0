package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configKeys = []string{
	"PORT", "GRPC_PORT", "LOG_LEVEL", "LOG_PRETTY", "DATABASE_URL", "LOCK_BACKEND",
	"REDIS_URL", "LOCK_TTL", "SWEEP_INTERVAL", "RATING_TOLERANCE", "RATING_POLICY",
	"NATS_URL", "NATS_SUBJECT", "MAX_PAYLOAD_SIZE", "CATALOG_CACHE_TTL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port '8080', got '%s'", cfg.Port)
	}
	if cfg.GRPCPort != "9090" {
		t.Errorf("expected default gRPC port '9090', got '%s'", cfg.GRPCPort)
	}
	if cfg.LockBackend != BackendPostgres {
		t.Errorf("expected default lock backend %q, got %q", BackendPostgres, cfg.LockBackend)
	}
	if cfg.LockTTL != DefaultLockTTL {
		t.Errorf("expected default lock TTL %v, got %v", DefaultLockTTL, cfg.LockTTL)
	}
	if cfg.SweepInterval != DefaultSweepInterval {
		t.Errorf("expected default sweep interval %v, got %v", DefaultSweepInterval, cfg.SweepInterval)
	}
	if cfg.RatingTolerance != DefaultRatingTolerance {
		t.Errorf("expected default tolerance %v, got %v", DefaultRatingTolerance, cfg.RatingTolerance)
	}
	if cfg.RatingPolicy != DefaultRatingPolicy {
		t.Errorf("expected default policy %q, got %q", DefaultRatingPolicy, cfg.RatingPolicy)
	}
	if cfg.MaxPayloadSize != DefaultMaxPayloadSize {
		t.Errorf("expected default payload size %d, got %d", DefaultMaxPayloadSize, cfg.MaxPayloadSize)
	}
	if cfg.NATSURL != "" {
		t.Errorf("expected events disabled by default, got NATS_URL %q", cfg.NATSURL)
	}
	if cfg.LogPretty {
		t.Error("expected JSON logging by default")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://localhost/ratings")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("LOCK_TTL", "90s")
	t.Setenv("SWEEP_INTERVAL", "0")
	t.Setenv("RATING_TOLERANCE", "0.001")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("MAX_PAYLOAD_SIZE", "2048")
	t.Setenv("CATALOG_CACHE_TTL", "30")

	cfg := Load()

	if cfg.Port != "9000" {
		t.Errorf("expected port '9000', got '%s'", cfg.Port)
	}
	if cfg.LockBackend != BackendRedis {
		t.Errorf("expected redis backend, got %q", cfg.LockBackend)
	}
	if cfg.LockTTL != 90*time.Second {
		t.Errorf("expected lock TTL 90s, got %v", cfg.LockTTL)
	}
	if cfg.SweepInterval != 0 {
		t.Errorf("expected sweeping disabled, got %v", cfg.SweepInterval)
	}
	if cfg.RatingTolerance != 0.001 {
		t.Errorf("expected tolerance 0.001, got %v", cfg.RatingTolerance)
	}
	if !cfg.LogPretty {
		t.Error("expected pretty logging")
	}
	if cfg.MaxPayloadSize != 2048 {
		t.Errorf("expected payload size 2048, got %d", cfg.MaxPayloadSize)
	}
	if cfg.CatalogCacheTTL != 30*time.Second {
		t.Errorf("expected plain seconds to parse, got %v", cfg.CatalogCacheTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOCK_TTL", "forever")
	t.Setenv("RATING_TOLERANCE", "tiny")
	t.Setenv("MAX_PAYLOAD_SIZE", "not-a-number")
	t.Setenv("LOG_PRETTY", "maybe")

	cfg := Load()

	if cfg.LockTTL != DefaultLockTTL {
		t.Errorf("expected default for invalid lock TTL, got %v", cfg.LockTTL)
	}
	if cfg.RatingTolerance != DefaultRatingTolerance {
		t.Errorf("expected default for invalid tolerance, got %v", cfg.RatingTolerance)
	}
	if cfg.MaxPayloadSize != DefaultMaxPayloadSize {
		t.Errorf("expected default for invalid payload size, got %d", cfg.MaxPayloadSize)
	}
	if cfg.LogPretty {
		t.Error("expected default for invalid LOG_PRETTY")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseURL:   "postgres://localhost/ratings",
			LockBackend:   BackendPostgres,
			LockTTL:       DefaultLockTTL,
			SweepInterval: DefaultSweepInterval,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "memory backend", mutate: func(c *Config) { c.LockBackend = BackendMemory }},
		{name: "missing database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.LockBackend = "etcd" }, wantErr: true},
		{name: "redis without url", mutate: func(c *Config) { c.LockBackend = BackendRedis }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.LockTTL = 0 }, wantErr: true},
		{name: "negative sweep", mutate: func(c *Config) { c.SweepInterval = -time.Second }, wantErr: true},
		{name: "negative tolerance", mutate: func(c *Config) { c.RatingTolerance = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	content := "LOCK_BACKEND=memory\nPORT=7070\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// Values already in the environment win over the file.
	t.Setenv("PORT", "6060")
	// godotenv keeps keys that exist even when empty.
	_ = os.Unsetenv("LOCK_BACKEND")
	t.Cleanup(func() { _ = os.Unsetenv("LOCK_BACKEND") })

	LoadDotEnv()
	cfg := Load()

	if cfg.LockBackend != BackendMemory {
		t.Errorf("expected lock backend from .env, got %q", cfg.LockBackend)
	}
	if cfg.Port != "6060" {
		t.Errorf("expected environment to win, got %q", cfg.Port)
	}
}
