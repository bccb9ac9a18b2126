// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

// Package database persists the listening history.
//
// Four interchangeable backends implement EventStore:
//
//   - duckdb: embedded analytical database (default)
//   - sqlite: CGO-free SQLite via modernc.org/sqlite
//   - csv: flat append-only file with a mandatory header row
//   - badger: embedded key-value log
//
// Every backend enforces the same rules: an event is identified by
// (entity id, occurred-at millisecond), a merge stores only events whose key
// is not already present (including duplicates inside the batch), and a
// merge either persists all of its new events or none of them.
package database

import (
	"context"
	"fmt"

	"github.com/tomtom215/replaylog/internal/config"
	"github.com/tomtom215/replaylog/internal/models"
)

// EventStore is the durable, deduplicating event log.
//
// Scans return events newest first (occurred-at descending, then entity id).
type EventStore interface {
	// Merge persists the events whose key is not yet stored and returns how
	// many were added.
	Merge(ctx context.Context, events []models.Event) (int, error)

	// All returns the full history.
	All(ctx context.Context) ([]models.Event, error)

	// Range returns events whose UTC date lies in [start, end], both YYYY-MM-DD.
	Range(ctx context.Context, start, end string) ([]models.Event, error)

	// ByDate returns the events of a single UTC date.
	ByDate(ctx context.Context, date string) ([]models.Event, error)

	// Recent returns at most n events with the latest occurred-at.
	Recent(ctx context.Context, n int) ([]models.Event, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int, error)

	// Clear removes every event.
	Clear(ctx context.Context) error

	// Ping reports whether the backend is usable.
	Ping(ctx context.Context) error

	Close() error
}

// Supported drivers.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
	DriverCSV    = "csv"
	DriverBadger = "badger"
)

// Open returns the EventStore selected by cfg.Driver.
func Open(cfg *config.DatabaseConfig) (EventStore, error) {
	switch cfg.Driver {
	case DriverDuckDB:
		return NewDuckDBStore(cfg)
	case DriverSQLite:
		return NewSQLiteStore(cfg.Path)
	case DriverCSV:
		return NewCSVStore(cfg.Path)
	case DriverBadger:
		return NewBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
