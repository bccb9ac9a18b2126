// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if err := c.validateUpstream(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if c.Aggregate.WindowSize < 0 {
		return fmt.Errorf("AGGREGATE_WINDOW_SIZE must be >= 0, got %d", c.Aggregate.WindowSize)
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateUpstream() error {
	if err := validateHTTPURL(c.Upstream.BaseURL, "UPSTREAM_BASE_URL"); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Upstream.RecentPath, "/") {
		return fmt.Errorf("UPSTREAM_RECENT_PATH must start with /, got %q", c.Upstream.RecentPath)
	}
	if c.Upstream.PageLimit < 1 || c.Upstream.PageLimit > 50 {
		return fmt.Errorf("UPSTREAM_PAGE_LIMIT must be between 1 and 50, got %d", c.Upstream.PageLimit)
	}
	if c.Upstream.MaxPages < 1 {
		return fmt.Errorf("UPSTREAM_MAX_PAGES must be positive, got %d", c.Upstream.MaxPages)
	}
	if c.Upstream.RequestTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_REQUEST_TIMEOUT must be positive")
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("UPSTREAM_MAX_RETRIES must be >= 0, got %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.RateLimitRPS < 0 {
		return fmt.Errorf("UPSTREAM_RATE_LIMIT_RPS must be >= 0")
	}
	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.TokenURL == "" {
		if c.Auth.AccessToken == "" {
			return fmt.Errorf("either AUTH_TOKEN_URL or AUTH_ACCESS_TOKEN is required")
		}
		return nil
	}
	if _, err := url.ParseRequestURI(c.Auth.TokenURL); err != nil {
		return fmt.Errorf("AUTH_TOKEN_URL is invalid: %w", err)
	}
	if c.Auth.ClientID == "" {
		return fmt.Errorf("AUTH_CLIENT_ID is required when AUTH_TOKEN_URL is set")
	}
	if c.Auth.ExpirySkew < 0 {
		return fmt.Errorf("AUTH_EXPIRY_SKEW must be >= 0")
	}
	if c.Auth.EncryptionKey != "" && len(c.Auth.EncryptionKey) < 32 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be at least 32 characters")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %v", c.Sync.Interval)
	}
	if c.Sync.RunTimeout <= 0 {
		return fmt.Errorf("SYNC_RUN_TIMEOUT must be positive, got %v", c.Sync.RunTimeout)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "duckdb", "sqlite", "csv", "badger":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be one of duckdb, sqlite, csv, badger; got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must be >= 0")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	switch c.Security.AuthMode {
	case "none":
	case "jwt":
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters when AUTH_MODE=jwt")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be none or jwt, got %q", c.Security.AuthMode)
	}
	if !c.Security.RateLimitDisabled && c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL is invalid: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}

func validateHTTPURL(rawURL, fieldName string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %q", fieldName, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters", fieldName)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.Embedded {
		// -1 asks the server for any free port
		if c.NATS.EmbeddedPort < -1 || c.NATS.EmbeddedPort == 0 || c.NATS.EmbeddedPort > 65535 {
			return fmt.Errorf("NATS_EMBEDDED_PORT must be -1 or between 1 and 65535, got %d", c.NATS.EmbeddedPort)
		}
		return nil
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true")
	}
	return nil
}
