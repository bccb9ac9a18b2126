// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/models"
)

// CSVStore is an append-only flat file with a header row. The file is
// loaded once at open; afterwards memory and file move together under mu.
type CSVStore struct {
	path string

	mu     sync.RWMutex
	events []models.Event // file order
	keys   map[models.EventKey]struct{}
	closed bool
}

// NewCSVStore opens the file at path, creating it with a header if missing.
func NewCSVStore(path string) (*CSVStore, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	s := &CSVStore{path: path, keys: make(map[models.EventKey]struct{})}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.writeFresh(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, ioError(DriverCSV, "open", err)
	}
	defer closeWithLog(f, "csv store")

	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		if err := s.writeFresh(); err != nil {
			return nil, err
		}
		return s, nil
	}

	events, err := readEvents(f)
	if err != nil {
		return nil, corruptError(DriverCSV, "load", fmt.Errorf("%s: %w", path, err))
	}
	for _, ev := range events {
		k := ev.Key()
		if _, dup := s.keys[k]; dup {
			continue
		}
		s.keys[k] = struct{}{}
		s.events = append(s.events, ev)
	}
	logging.Debug().Str("path", path).Int("events", len(s.events)).Msg("CSV store loaded")
	return s, nil
}

// writeFresh atomically replaces the file with a header-only file.
func (s *CSVStore) writeFresh() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".replaylog-*.csv")
	if err != nil {
		return ioError(DriverCSV, "create", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		closeQuietly(tmp)
		_ = os.Remove(tmpName)
	}

	if err := writeRecords(tmp, nil, true); err != nil {
		cleanup()
		return ioError(DriverCSV, "write header", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return ioError(DriverCSV, "sync", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return ioError(DriverCSV, "close", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return ioError(DriverCSV, "rename", err)
	}
	return nil
}

// Merge implements EventStore. New rows are appended in one write followed
// by fsync; on failure the file is truncated back to its previous size and
// memory is left untouched.
func (s *CSVStore) Merge(ctx context.Context, events []models.Event) (int, error) {
	batch, err := prepareBatch(events)
	if err != nil || len(batch) == 0 {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ioError(DriverCSV, "merge", os.ErrClosed)
	}
	defer observeMerge(DriverCSV, time.Now())

	fresh := batch[:0:0]
	for i := range batch {
		if _, seen := s.keys[batch[i].Key()]; !seen {
			fresh = append(fresh, batch[i])
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	if err := writeRecords(&buf, fresh, false); err != nil {
		return 0, ioError(DriverCSV, "encode", err)
	}
	if err := s.appendDurably(buf.Bytes()); err != nil {
		return 0, err
	}

	for _, ev := range fresh {
		s.keys[ev.Key()] = struct{}{}
		s.events = append(s.events, ev)
	}
	return len(fresh), nil
}

func (s *CSVStore) appendDurably(data []byte) (err error) {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return ioError(DriverCSV, "open for append", err)
	}
	defer closeWithLog(f, "csv store")

	info, err := f.Stat()
	if err != nil {
		return ioError(DriverCSV, "stat", err)
	}
	size := info.Size()

	defer func() {
		if err != nil {
			if tErr := f.Truncate(size); tErr != nil {
				logging.Error().Err(tErr).AnErr("original_error", err).Str("path", s.path).
					Msg("Failed to truncate partial append, store may need repair")
			}
		}
	}()

	if _, err = f.Write(data); err != nil {
		return ioError(DriverCSV, "append", err)
	}
	if err = f.Sync(); err != nil {
		return ioError(DriverCSV, "sync", err)
	}
	return nil
}

// All implements EventStore.
func (s *CSVStore) All(_ context.Context) ([]models.Event, error) {
	return s.filter(func(*models.Event) bool { return true }), nil
}

// Range implements EventStore.
func (s *CSVStore) Range(_ context.Context, start, end string) ([]models.Event, error) {
	ok, err := validateRange(start, end)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.Event{}, nil
	}
	return s.filter(func(ev *models.Event) bool {
		return ev.Date >= start && ev.Date <= end
	}), nil
}

// ByDate implements EventStore.
func (s *CSVStore) ByDate(ctx context.Context, date string) ([]models.Event, error) {
	return s.Range(ctx, date, date)
}

// Recent implements EventStore.
func (s *CSVStore) Recent(ctx context.Context, n int) ([]models.Event, error) {
	if n <= 0 {
		return []models.Event{}, nil
	}
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// Count implements EventStore.
func (s *CSVStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

// Clear implements EventStore. The file is replaced by a header-only file.
func (s *CSVStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeFresh(); err != nil {
		return err
	}
	s.events = nil
	s.keys = make(map[models.EventKey]struct{})
	return nil
}

// Ping implements EventStore.
func (s *CSVStore) Ping(_ context.Context) error {
	if _, err := os.Stat(s.path); err != nil {
		return ioError(DriverCSV, "ping", err)
	}
	return nil
}

// Close implements EventStore. Every merge is already durable.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *CSVStore) filter(keep func(*models.Event) bool) []models.Event {
	s.mu.RLock()
	out := make([]models.Event, 0, len(s.events))
	for i := range s.events {
		if keep(&s.events[i]) {
			out = append(out, cloneEvent(&s.events[i]))
		}
	}
	s.mu.RUnlock()

	models.SortNewestFirst(out)
	return out
}
