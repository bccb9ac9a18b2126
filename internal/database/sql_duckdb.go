// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package database

import (
	"fmt"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"github.com/tomtom215/replaylog/internal/config"
)

// NewDuckDBStore opens (or creates) a DuckDB database at cfg.Path.
// ":memory:" gives a process-local database shared by all pool connections.
func NewDuckDBStore(cfg *config.DatabaseConfig) (*SQLStore, error) {
	if err := ensureParentDir(cfg.Path); err != nil {
		return nil, err
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	// Extensions are not needed; disabling autoload avoids network access on open.
	dsn := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory)

	return openSQLStore(sqlDialect{
		name:         DriverDuckDB,
		driver:       "duckdb",
		checkpoint:   "CHECKPOINT",
		maxOpenConns: runtime.NumCPU(),
	}, dsn)
}
