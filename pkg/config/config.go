// Package config loads governd configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// PolicyBundle is an optional path to a YAML/JSON policy bundle;
	// empty selects the built-in default bundle.
	PolicyBundle string
	// ApprovalBackend selects the approval store: memory, postgres, redis.
	ApprovalBackend string
	// DatabaseURL is the Postgres DSN for the postgres backend.
	DatabaseURL string
	// RedisAddr/RedisPassword/RedisDB configure the redis backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// PurgeInterval controls the memory store's expired-grant sweep.
	PurgeInterval time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		Addr:            getenv("GOVERND_ADDR", ":8090"),
		PolicyBundle:    os.Getenv("GOVERND_POLICY_BUNDLE"),
		ApprovalBackend: getenv("GOVERND_APPROVAL_BACKEND", "memory"),
		DatabaseURL:     getenv("DATABASE_URL", "postgres://brain@localhost:5432/brain?sslmode=disable"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		PurgeInterval:   10 * time.Minute,
	}

	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if db, err := strconv.Atoi(raw); err == nil {
			cfg.RedisDB = db
		}
	}
	if raw := os.Getenv("GOVERND_PURGE_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.PurgeInterval = d
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
