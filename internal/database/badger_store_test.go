// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package database

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/replaylog/internal/models"
)

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")

	s, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	mustMerge(t, s, makeEvent("x", t0, 1000), makeEvent("y", t0.Add(time.Minute), 1000))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	checkIntEqual(t, "count after reopen", n, 2)
	checkIntEqual(t, "re-merge", mustMerge(t, s, makeEvent("y", t0.Add(time.Minute), 1000)), 0)
}

func TestEventKeyOrdering(t *testing.T) {
	t.Parallel()

	keys := [][]byte{
		eventKey(-1000, "a"),
		eventKey(0, "a"),
		eventKey(1, "a"),
		eventKey(1, "b"),
		eventKey(1<<40, "a"),
	}
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1], keys[i]) >= 0 {
			t.Errorf("key %d does not sort before key %d", i-1, i)
		}
	}
	if bytes.Compare(timeBound(2), eventKey(1, "zzzz")) <= 0 {
		t.Error("bound of ms+1 must sort after every key at ms")
	}
}

// cancelAfterContext reports cancellation once Err has been asked more than
// budget times.
type cancelAfterContext struct {
	context.Context
	budget int64
	calls  atomic.Int64
}

func (c *cancelAfterContext) Err() error {
	if c.calls.Add(1) > c.budget {
		return context.Canceled
	}
	return nil
}

func TestBadgerStore_InterruptedMergeWritesNothing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large merge in short mode")
	}
	s, err := NewBadgerStore("")
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	defer s.Close()

	mustMerge(t, s, makeEvent("existing", t0, 1))

	const size = 100_000
	batch := make([]models.Event, size)
	for i := range batch {
		batch[i] = makeEvent("track-"+strconv.Itoa(i), t0.Add(time.Duration(i+1)*time.Second), 180000, "Artist")
	}

	// One Err call per event while finding new keys, then one per write.
	// Cancelling near the end of the writes leaves earlier chunks committed.
	ctx := &cancelAfterContext{Context: context.Background(), budget: size + size*9/10}
	if _, err := s.Merge(ctx, batch); !errors.Is(err, context.Canceled) {
		t.Fatalf("Merge() error = %v, want context.Canceled", err)
	}

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	checkIntEqual(t, "count after interrupted merge", n, 1)
	checkIntEqual(t, "merge after interruption", mustMerge(t, s, batch...), size)
}
