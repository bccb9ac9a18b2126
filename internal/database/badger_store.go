// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package database

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/replaylog/internal/models"
)

// Key layout: "evt:" + 8-byte big-endian sortable millis + entity id.
// Keys therefore iterate in occurred-at order.
var eventPrefix = []byte("evt:")

// BadgerStore is an EventStore over an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB

	// writeMu keeps concurrent merges from conflicting on the same keys.
	writeMu sync.Mutex
}

// NewBadgerStore opens a BadgerDB directory at path. An empty path opens
// an in-memory database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, ioError(DriverBadger, "open", err)
	}
	return NewBadgerStoreFromDB(db), nil
}

// NewBadgerStoreFromDB wraps an already opened database.
func NewBadgerStoreFromDB(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func sortableMillis(ms int64) uint64 {
	return uint64(ms) ^ (1 << 63) //nolint:gosec // sign-bit flip keeps negative instants ordered
}

func eventKey(ms int64, entityID string) []byte {
	k := make([]byte, 0, len(eventPrefix)+8+len(entityID))
	k = append(k, eventPrefix...)
	k = binary.BigEndian.AppendUint64(k, sortableMillis(ms))
	return append(k, entityID...)
}

// timeBound returns the key prefix of all events at ms.
func timeBound(ms int64) []byte {
	return eventKey(ms, "")
}

// badgerRecord is the stored value. OccurredAt lives in the key as well but
// is kept here so a value decodes on its own.
type badgerRecord struct {
	EntityID         string   `json:"id"`
	EntityName       string   `json:"n"`
	AttributionNames []string `json:"a"`
	GroupName        string   `json:"g"`
	DurationMs       int64    `json:"d"`
	Popularity       *int     `json:"p,omitempty"`
	OccurredAtMs     int64    `json:"t"`
}

func toRecord(ev *models.Event) badgerRecord {
	return badgerRecord{
		EntityID:         ev.EntityID,
		EntityName:       ev.EntityName,
		AttributionNames: ev.AttributionNames,
		GroupName:        ev.GroupName,
		DurationMs:       ev.DurationMs,
		Popularity:       ev.Popularity,
		OccurredAtMs:     ev.OccurredAt.UnixMilli(),
	}
}

func (r *badgerRecord) event() models.Event {
	names := r.AttributionNames
	if names == nil {
		names = []string{}
	}
	ev := models.Event{
		EntityID:         r.EntityID,
		EntityName:       r.EntityName,
		AttributionNames: names,
		GroupName:        r.GroupName,
		DurationMs:       r.DurationMs,
		Popularity:       r.Popularity,
		OccurredAt:       models.TimeFromMillis(r.OccurredAtMs),
	}
	ev.Date = models.DateOf(ev.OccurredAt)
	return ev
}

// Merge implements EventStore. New keys are found in a read-only pass and
// then written through a WriteBatch, which splits the batch into as many
// transactions as Badger's size limit requires. A failed write deletes every
// key written so far, so callers still see all or nothing.
func (s *BadgerStore) Merge(ctx context.Context, events []models.Event) (int, error) {
	batch, err := prepareBatch(events)
	if err != nil || len(batch) == 0 {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer observeMerge(DriverBadger, time.Now())

	fresh, err := s.newKeys(ctx, batch)
	if err != nil {
		return 0, s.mergeError(ctx, err)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := s.writeFresh(ctx, batch, fresh); err != nil {
		if rbErr := s.deleteKeys(fresh); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return 0, s.mergeError(ctx, err)
	}
	return len(fresh), nil
}

// pendingKey pairs a batch index with the key it will be stored under.
type pendingKey struct {
	idx int
	key []byte
}

// newKeys returns the batch entries whose keys are not stored yet. writeMu
// must be held so the answer stays true until the write.
func (s *BadgerStore) newKeys(ctx context.Context, batch []models.Event) ([]pendingKey, error) {
	var fresh []pendingKey
	err := s.db.View(func(txn *badger.Txn) error {
		for i := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			ev := &batch[i]
			key := eventKey(ev.OccurredAt.UnixMilli(), ev.EntityID)

			_, err := txn.Get(key)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			fresh = append(fresh, pendingKey{idx: i, key: key})
		}
		return nil
	})
	return fresh, err
}

func (s *BadgerStore) writeFresh(ctx context.Context, batch []models.Event, fresh []pendingKey) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, p := range fresh {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, err := json.Marshal(toRecord(&batch[p.idx]))
		if err != nil {
			return err
		}
		if err := wb.Set(p.key, value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// deleteKeys removes keys that a failed merge may have committed. Every one
// of them was absent before the merge, so deleting is an exact undo.
func (s *BadgerStore) deleteKeys(keys []pendingKey) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, p := range keys {
		if err := wb.Delete(p.key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *BadgerStore) mergeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return ioError(DriverBadger, "merge", err)
}

// scan iterates keys in [lo, hi] (inclusive millis). newestFirst iterates
// backwards; limit <= 0 means no limit. Keys at one instant iterate in
// descending entity id order when reversed, so a limited scan reads the
// whole instant at the cut before sorting and trimming.
func (s *BadgerStore) scan(ctx context.Context, op string, lo, hi int64, newestFirst bool, limit int) ([]models.Event, error) {
	events := []models.Event{}
	loKey := timeBound(lo)
	// every key at hi sorts before the first key at hi+1
	hiKey := timeBound(hi + 1)

	var cutInstant []byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = eventPrefix
		opts.Reverse = newestFirst
		it := txn.NewIterator(opts)
		defer it.Close()

		start := loKey
		if newestFirst {
			// reverse Seek lands on the largest key <= start
			start = hiKey
		}
		for it.Seek(start); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			k := item.Key()
			if bytes.Compare(k, loKey) < 0 || bytes.Compare(k, hiKey) >= 0 {
				if newestFirst && bytes.Compare(k, hiKey) >= 0 {
					continue
				}
				break
			}
			if cutInstant != nil && !bytes.HasPrefix(k, cutInstant) {
				break
			}

			var rec badgerRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return corruptError(DriverBadger, op, fmt.Errorf("key %x: %w", k, err))
			}
			events = append(events, rec.event())
			if limit > 0 && len(events) == limit {
				cutInstant = timeBound(rec.OccurredAtMs)
			}
		}
		return nil
	})
	if err != nil {
		var se *StoreError
		if errors.As(err, &se) || ctx.Err() != nil {
			return nil, err
		}
		return nil, ioError(DriverBadger, op, err)
	}

	if newestFirst {
		// Iteration is newest-first by time; equal instants must still come
		// out in entity id order.
		models.SortNewestFirst(events)
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

const (
	minMillis = -1 << 62
	maxMillis = 1<<62 - 1
)

// All implements EventStore.
func (s *BadgerStore) All(ctx context.Context) ([]models.Event, error) {
	return s.scan(ctx, "scan", minMillis, maxMillis, true, 0)
}

// Range implements EventStore.
func (s *BadgerStore) Range(ctx context.Context, start, end string) ([]models.Event, error) {
	ok, err := validateRange(start, end)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.Event{}, nil
	}
	lo, hi, err := dayBoundsMs(start, end)
	if err != nil {
		return nil, err
	}
	return s.scan(ctx, "range scan", lo, hi, true, 0)
}

// ByDate implements EventStore.
func (s *BadgerStore) ByDate(ctx context.Context, date string) ([]models.Event, error) {
	return s.Range(ctx, date, date)
}

// Recent implements EventStore.
func (s *BadgerStore) Recent(ctx context.Context, n int) ([]models.Event, error) {
	if n <= 0 {
		return []models.Event{}, nil
	}
	return s.scan(ctx, "recent scan", minMillis, maxMillis, true, n)
}

// Count implements EventStore.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = eventPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, ioError(DriverBadger, "count", err)
	}
	return n, nil
}

// Clear implements EventStore.
func (s *BadgerStore) Clear(_ context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.DropPrefix(eventPrefix); err != nil {
		return ioError(DriverBadger, "clear", err)
	}
	return nil
}

// Ping implements EventStore.
func (s *BadgerStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return ioError(DriverBadger, "ping", errors.New("database closed"))
	}
	return nil
}

// Close implements EventStore. Closing twice is a no-op.
func (s *BadgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}
