// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package database

import (
	_ "modernc.org/sqlite" // CGO-free SQLite, registers the "sqlite" driver
)

// NewSQLiteStore opens (or creates) a SQLite database at path in WAL mode.
//
// A single pool connection keeps writers and readers from tripping over
// SQLITE_BUSY, and lets ":memory:" behave as one database.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	return openSQLStore(sqlDialect{
		name:         DriverSQLite,
		driver:       "sqlite",
		checkpoint:   "PRAGMA wal_checkpoint(TRUNCATE)",
		maxOpenConns: 1,
	}, dsn)
}
