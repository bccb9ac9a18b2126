// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package database

import (
	"fmt"
	"slices"
	"time"

	"github.com/tomtom215/replaylog/internal/metrics"
	"github.com/tomtom215/replaylog/internal/models"
)

// prepareBatch returns canonical copies of events with in-batch duplicates
// removed, keeping the first occurrence. Callers never see their input
// mutated and stored events never alias caller slices.
func prepareBatch(events []models.Event) ([]models.Event, error) {
	out := make([]models.Event, 0, len(events))
	seen := make(map[models.EventKey]struct{}, len(events))
	for i := range events {
		ev := cloneEvent(&events[i])
		ev.Canonicalize()
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w", ErrInvalidEvent, i, err)
		}
		k := ev.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ev)
	}
	return out, nil
}

// observeMerge records how long a merge held the store's write lock.
func observeMerge(backend string, start time.Time) {
	metrics.StoreMergeDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

func cloneEvent(ev *models.Event) models.Event {
	c := *ev
	c.AttributionNames = slices.Clone(ev.AttributionNames)
	if c.AttributionNames == nil {
		c.AttributionNames = []string{}
	}
	if ev.Popularity != nil {
		p := *ev.Popularity
		c.Popularity = &p
	}
	return c
}

func cloneEvents(events []models.Event) []models.Event {
	out := make([]models.Event, len(events))
	for i := range events {
		out[i] = cloneEvent(&events[i])
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// validateRange checks both bounds. ok is false when start is after end,
// which callers answer with an empty result.
func validateRange(start, end string) (ok bool, err error) {
	s, err := parseDate(start)
	if err != nil {
		return false, err
	}
	e, err := parseDate(end)
	if err != nil {
		return false, err
	}
	return !s.After(e), nil
}

// dayBoundsMs returns the first and last millisecond of [start, end].
func dayBoundsMs(start, end string) (lo, hi int64, err error) {
	s, err := parseDate(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := parseDate(end)
	if err != nil {
		return 0, 0, err
	}
	return s.UnixMilli(), e.AddDate(0, 0, 1).UnixMilli() - 1, nil
}
