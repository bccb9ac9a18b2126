// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/models"
)

// sqlDialect captures what differs between the SQL backends. Schema and
// statements are shared.
type sqlDialect struct {
	name         string
	driver       string
	checkpoint   string
	maxOpenConns int
}

// SQLStore is an EventStore over database/sql. The unique key on
// (entity_id, occurred_at_ms) is the source of truth for deduplication.
type SQLStore struct {
	conn    *sql.DB
	dialect sqlDialect

	// writeMu serializes merges so RowsAffected counts are exact and merges
	// never race each other on the unique key.
	writeMu sync.Mutex
}

const eventColumns = `entity_id, occurred_at_ms, event_date, entity_name,
	attribution_names, group_name, duration_ms, popularity`

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS listening_events (
		entity_id VARCHAR NOT NULL,
		occurred_at_ms BIGINT NOT NULL,
		event_date VARCHAR NOT NULL,
		entity_name VARCHAR NOT NULL,
		attribution_names VARCHAR NOT NULL,
		group_name VARCHAR NOT NULL,
		duration_ms BIGINT NOT NULL,
		popularity INTEGER,
		PRIMARY KEY (entity_id, occurred_at_ms)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listening_events_date ON listening_events(event_date)`,
	`CREATE INDEX IF NOT EXISTS idx_listening_events_time ON listening_events(occurred_at_ms)`,
}

func ensureParentDir(path string) error {
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

func openSQLStore(d sqlDialect, dsn string) (*SQLStore, error) {
	conn, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, ioError(d.name, "open", err)
	}

	conn.SetMaxOpenConns(d.maxOpenConns)
	conn.SetMaxIdleConns(min(2, d.maxOpenConns))
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &SQLStore{conn: conn, dialect: d}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.createTables(ctx); err != nil {
		closeQuietly(conn)
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return ioError(s.dialect.name, "create schema", err)
		}
	}
	return nil
}

// Merge implements EventStore.
func (s *SQLStore) Merge(ctx context.Context, events []models.Event) (added int, err error) {
	batch, err := prepareBatch(events)
	if err != nil || len(batch) == 0 {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer observeMerge(s.dialect.name, time.Now())

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, ioError(s.dialect.name, "begin", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().
					Err(rbErr).
					AnErr("original_error", err).
					Str("backend", s.dialect.name).
					Msg("Transaction rollback failed")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO listening_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, ioError(s.dialect.name, "prepare insert", err)
	}
	defer closeWithLog(stmt, "prepared statement")

	for i := range batch {
		ev := &batch[i]
		names, mErr := json.Marshal(ev.AttributionNames)
		if mErr != nil {
			return 0, ioError(s.dialect.name, "encode attributions", mErr)
		}
		var popularity sql.NullInt64
		if ev.Popularity != nil {
			popularity = sql.NullInt64{Int64: int64(*ev.Popularity), Valid: true}
		}

		res, execErr := stmt.ExecContext(ctx,
			ev.EntityID, ev.OccurredAt.UnixMilli(), ev.Date, ev.EntityName,
			string(names), ev.GroupName, ev.DurationMs, popularity)
		if execErr != nil {
			return 0, ioError(s.dialect.name, "insert", execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return 0, ioError(s.dialect.name, "rows affected", raErr)
		}
		added += int(n)
	}

	if err = tx.Commit(); err != nil {
		return 0, ioError(s.dialect.name, "commit", err)
	}
	return added, nil
}

const orderNewestFirst = ` ORDER BY occurred_at_ms DESC, entity_id ASC`

// All implements EventStore.
func (s *SQLStore) All(ctx context.Context) ([]models.Event, error) {
	return s.query(ctx, "scan", `SELECT `+eventColumns+` FROM listening_events`+orderNewestFirst)
}

// Range implements EventStore.
func (s *SQLStore) Range(ctx context.Context, start, end string) ([]models.Event, error) {
	ok, err := validateRange(start, end)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.Event{}, nil
	}
	return s.query(ctx, "range scan", `SELECT `+eventColumns+` FROM listening_events
		WHERE event_date >= ? AND event_date <= ?`+orderNewestFirst, start, end)
}

// ByDate implements EventStore.
func (s *SQLStore) ByDate(ctx context.Context, date string) ([]models.Event, error) {
	return s.Range(ctx, date, date)
}

// Recent implements EventStore.
func (s *SQLStore) Recent(ctx context.Context, n int) ([]models.Event, error) {
	if n <= 0 {
		return []models.Event{}, nil
	}
	return s.query(ctx, "recent scan", `SELECT `+eventColumns+` FROM listening_events`+orderNewestFirst+` LIMIT ?`, n)
}

// Count implements EventStore.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM listening_events`).Scan(&n); err != nil {
		return 0, ioError(s.dialect.name, "count", err)
	}
	return n, nil
}

// Clear implements EventStore.
func (s *SQLStore) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM listening_events`); err != nil {
		return ioError(s.dialect.name, "clear", err)
	}
	s.checkpoint(ctx)
	return nil
}

// Ping implements EventStore.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return ioError(s.dialect.name, "ping", err)
	}
	return nil
}

// Close flushes the write-ahead log and closes the connection pool.
func (s *SQLStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	s.checkpoint(ctx)
	cancel()
	return s.conn.Close()
}

func (s *SQLStore) checkpoint(ctx context.Context) {
	if s.dialect.checkpoint == "" {
		return
	}
	if _, err := s.conn.ExecContext(ctx, s.dialect.checkpoint); err != nil {
		logging.Warn().Err(err).Str("backend", s.dialect.name).Msg("Checkpoint failed")
	}
}

func (s *SQLStore) query(ctx context.Context, op, query string, args ...any) (events []models.Event, err error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioError(s.dialect.name, op, err)
	}
	defer closeWithLog(rows, "rows")

	events = []models.Event{}
	for rows.Next() {
		var (
			ev         models.Event
			ms         int64
			names      string
			popularity sql.NullInt64
		)
		if err := rows.Scan(&ev.EntityID, &ms, &ev.Date, &ev.EntityName,
			&names, &ev.GroupName, &ev.DurationMs, &popularity); err != nil {
			return nil, ioError(s.dialect.name, op, err)
		}
		if err := json.Unmarshal([]byte(names), &ev.AttributionNames); err != nil {
			return nil, corruptError(s.dialect.name, op, fmt.Errorf("attribution_names for %s: %w", ev.EntityID, err))
		}
		if ev.AttributionNames == nil {
			ev.AttributionNames = []string{}
		}
		if popularity.Valid {
			ev.Popularity = models.IntPtr(int(popularity.Int64))
		}
		ev.OccurredAt = models.TimeFromMillis(ms)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, ioError(s.dialect.name, op, err)
	}
	return events, nil
}
