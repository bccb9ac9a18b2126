// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/replaylog/config.yaml",
	"/etc/replaylog/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:        "https://api.spotify.com",
			RecentPath:     "/v1/me/player/recently-played",
			PageLimit:      50,
			MaxPages:       1000,
			RequestTimeout: 15 * time.Second,
			MaxRetries:     5,
			RetryBaseDelay: time.Second,
			RateLimitRPS:   5,
			RateLimitBurst: 5,
		},
		Auth: AuthConfig{
			TokenURL:       "https://accounts.spotify.com/api/token",
			ExpirySkew:     time.Minute,
			TokenStorePath: "/data/tokens",
		},
		Sync: SyncConfig{
			Interval:     5 * time.Minute,
			RunTimeout:   2 * time.Minute,
			RunOnStartup: true,
		},
		Database: DatabaseConfig{
			Driver:    "duckdb",
			Path:      "/data/replaylog.duckdb",
			MaxMemory: "512MB",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3858,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Security: SecurityConfig{
			AuthMode:        "none",
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		NATS: NATSConfig{
			Enabled:      false,
			URL:          "nats://127.0.0.1:4222",
			Topic:        "history.merged",
			EmbeddedPort: 4222,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf layers configuration sources:
//  1. built-in defaults
//  2. optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. environment variables
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Variables not listed are ignored.
var envMappings = map[string]string{
	"upstream_base_url":         "upstream.base_url",
	"upstream_recent_path":      "upstream.recent_path",
	"upstream_page_limit":       "upstream.page_limit",
	"upstream_max_pages":        "upstream.max_pages",
	"upstream_request_timeout":  "upstream.request_timeout",
	"upstream_max_retries":      "upstream.max_retries",
	"upstream_retry_base_delay": "upstream.retry_base_delay",
	"upstream_rate_limit_rps":   "upstream.rate_limit_rps",
	"upstream_rate_limit_burst": "upstream.rate_limit_burst",

	"auth_token_url":       "auth.token_url",
	"auth_client_id":       "auth.client_id",
	"auth_client_secret":   "auth.client_secret",
	"auth_refresh_token":   "auth.refresh_token",
	"auth_access_token":    "auth.access_token",
	"auth_expiry_skew":     "auth.expiry_skew",
	"token_store_path":     "auth.token_store_path",
	"token_encryption_key": "auth.encryption_key",

	"sync_interval":       "sync.interval",
	"sync_run_timeout":    "sync.run_timeout",
	"sync_run_on_startup": "sync.run_on_startup",

	"database_driver":   "database.driver",
	"database_path":     "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"aggregate_window_size": "aggregate.window_size",

	"http_port":    "server.port",
	"http_host":    "server.host",
	"http_timeout": "server.timeout",
	"environment":  "server.environment",

	"auth_mode":           "security.auth_mode",
	"jwt_secret":          "security.jwt_secret",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	"nats_enabled":       "nats.enabled",
	"nats_url":           "nats.url",
	"nats_topic":         "nats.topic",
	"nats_embedded":      "nats.embedded",
	"nats_embedded_port": "nats.embedded_port",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps HTTP_PORT to server.port and so on. Unknown variables
// return "" so koanf skips them.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
