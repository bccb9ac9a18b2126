// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

// Package config loads replaylog configuration from built-in defaults, an
// optional YAML file and environment variables, in that order of precedence.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Auth      AuthConfig      `koanf:"auth"`
	Sync      SyncConfig      `koanf:"sync"`
	Database  DatabaseConfig  `koanf:"database"`
	Aggregate AggregateConfig `koanf:"aggregate"`
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	NATS      NATSConfig      `koanf:"nats"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// UpstreamConfig describes the streaming service's recent-events endpoint.
type UpstreamConfig struct {
	BaseURL        string        `koanf:"base_url"`
	RecentPath     string        `koanf:"recent_path"`
	PageLimit      int           `koanf:"page_limit"`
	MaxPages       int           `koanf:"max_pages"` // defensive ceiling on pagination
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxRetries     int           `koanf:"max_retries"` // 429 retries per page
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RateLimitRPS   float64       `koanf:"rate_limit_rps"`
	RateLimitBurst int           `koanf:"rate_limit_burst"`
}

// AuthConfig holds the refresh-token grant settings.
type AuthConfig struct {
	TokenURL     string `koanf:"token_url"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`

	// RefreshToken seeds the token store on first start. A rotated token
	// returned by the token endpoint replaces it in the store.
	RefreshToken string `koanf:"refresh_token"`

	// AccessToken, when set without TokenURL, is used as a fixed bearer
	// credential and never refreshed.
	AccessToken string `koanf:"access_token"`

	ExpirySkew     time.Duration `koanf:"expiry_skew"`
	TokenStorePath string        `koanf:"token_store_path"` // empty keeps tokens in memory only
	EncryptionKey  string        `koanf:"encryption_key"`   // encrypts the persisted refresh token
}

// SyncConfig controls the scheduler.
type SyncConfig struct {
	Interval     time.Duration `koanf:"interval"`
	RunTimeout   time.Duration `koanf:"run_timeout"`
	RunOnStartup bool          `koanf:"run_on_startup"`
}

// DatabaseConfig selects and configures the event store backend.
type DatabaseConfig struct {
	Driver    string `koanf:"driver"` // duckdb, sqlite, csv, badger
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"` // duckdb only
	Threads   int    `koanf:"threads"`    // duckdb only, 0 = runtime.NumCPU()
}

// AggregateConfig controls snapshot computation.
type AggregateConfig struct {
	// WindowSize limits every aggregate to the most recent N events.
	// Zero means the full history.
	WindowSize int `koanf:"window_size"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// SecurityConfig configures API protection.
type SecurityConfig struct {
	AuthMode          string        `koanf:"auth_mode"` // none or jwt
	JWTSecret         string        `koanf:"jwt_secret"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// NATSConfig enables publishing merge notifications to NATS. When disabled,
// notifications stay in process. Embedded starts a NATS server inside the
// process on EmbeddedPort and ignores URL.
type NATSConfig struct {
	Enabled      bool   `koanf:"enabled"`
	URL          string `koanf:"url"`
	Topic        string `koanf:"topic"`
	Embedded     bool   `koanf:"embedded"`
	EmbeddedPort int    `koanf:"embedded_port"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from defaults, the optional config file and the
// environment. See LoadWithKoanf.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
