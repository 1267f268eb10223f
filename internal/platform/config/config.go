// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Gatehouse API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Signing keys. The refresh key falls back to the access key when unset,
	// but operators should rotate them independently.
	JWTSigningKey        string `env:"JWT_SIGNING_KEY,required"`
	JWTRefreshSigningKey string `env:"JWT_REFRESH_SIGNING_KEY"`

	// Token lifetimes, in seconds.
	JWTAccessExpiry  int `env:"JWT_ACCESS_EXPIRY"  envDefault:"900"`
	JWTRefreshExpiry int `env:"JWT_REFRESH_EXPIRY" envDefault:"604800"`

	// JWTMaxTokensPerUser caps concurrently live access tokens per subject.
	JWTMaxTokensPerUser int `env:"JWT_MAX_TOKENS_PER_USER" envDefault:"10"`

	// JWTCacheMaxSize bounds the in-process verification result cache.
	JWTCacheMaxSize int `env:"JWT_CACHE_MAX_SIZE" envDefault:"10000"`

	// JWTEnforceRotation enables proactive rotation hints on access tokens
	// that have consumed JWTRotationThreshold of their lifetime.
	JWTEnforceRotation   bool    `env:"JWT_ENFORCE_ROTATION"   envDefault:"false"`
	JWTRotationThreshold float64 `env:"JWT_ROTATION_THRESHOLD" envDefault:"0.8"`

	// JWTEmbedPermissions controls whether resolved permission strings are
	// written into access-token claims to spare per-request engine lookups.
	JWTEmbedPermissions bool `env:"JWT_EMBED_PERMISSIONS" envDefault:"true"`

	// JWTBlacklistPrefix namespaces every revocation key in Redis.
	JWTBlacklistPrefix string `env:"JWT_BLACKLIST_PREFIX" envDefault:"jwt:blacklist"`

	// RevocationFailClosed turns revocation-store outages into hard denials.
	// The default trades strictness for availability: lookups fail open.
	RevocationFailClosed bool `env:"REVOCATION_FAIL_CLOSED" envDefault:"false"`

	// SessionTTL is the sliding session lifetime, in seconds.
	SessionTTL int `env:"SESSION_TTL" envDefault:"86400"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if cfg.JWTRefreshSigningKey == "" {
		cfg.JWTRefreshSigningKey = cfg.JWTSigningKey
	}
	if cfg.JWTRotationThreshold <= 0 || cfg.JWTRotationThreshold > 1 {
		return nil, fmt.Errorf("config: JWT_ROTATION_THRESHOLD must be in (0, 1], got %v", cfg.JWTRotationThreshold)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ExtraOriginList splits the comma-separated EXTRA_ORIGINS value into exact
// origins allowed by CORS beyond the first-party domain.
func (c *Config) ExtraOriginList() []string {
	if strings.TrimSpace(c.ExtraOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.ExtraOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// # Derived Durations

// AccessTTL returns the access-token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.JWTAccessExpiry) * time.Second
}

// RefreshTTL returns the refresh-token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWTRefreshExpiry) * time.Second
}

// SessionLifetime returns the sliding session TTL.
func (c *Config) SessionLifetime() time.Duration {
	return time.Duration(c.SessionTTL) * time.Second
}
