// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package models

import (
	"cmp"
	"errors"
	"slices"
	"time"
)

// DateLayout is the layout of Event.Date and of date query parameters.
const DateLayout = "2006-01-02"

// Event is one play of one item at one instant. Events are immutable once
// stored; the history only grows (or is cleared as a whole).
//
// (EntityID, OccurredAt) is the identity of an event. The same entity
// played at two different instants is two events.
type Event struct {
	EntityID         string    `json:"entity_id"`
	EntityName       string    `json:"entity_name"`
	AttributionNames []string  `json:"attribution_names"` // artists, in upstream order
	GroupName        string    `json:"group_name"`        // album
	DurationMs       int64     `json:"duration_ms"`
	Popularity       *int      `json:"popularity,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
	Date             string    `json:"date"` // UTC calendar date of OccurredAt
}

// EventKey is the deduplication key of an Event.
type EventKey struct {
	EntityID     string
	OccurredAtMs int64
}

// Key returns the deduplication key.
func (e *Event) Key() EventKey {
	return EventKey{EntityID: e.EntityID, OccurredAtMs: e.OccurredAt.UnixMilli()}
}

// Canonicalize truncates OccurredAt to millisecond precision in UTC,
// recomputes Date from it and drops empty attribution names, which no
// storage format can tell apart from a missing one. Every store persists
// canonical events only.
func (e *Event) Canonicalize() {
	e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Millisecond)
	e.Date = DateOf(e.OccurredAt)
	if slices.Contains(e.AttributionNames, "") {
		// fresh slice: the caller may still own the old backing array
		names := make([]string, 0, len(e.AttributionNames))
		for _, n := range e.AttributionNames {
			if n != "" {
				names = append(names, n)
			}
		}
		e.AttributionNames = names
	}
}

var (
	errMissingEntityID   = errors.New("entity id is required")
	errMissingOccurredAt = errors.New("occurred_at is required")
	errNegativeDuration  = errors.New("duration_ms must be >= 0")
)

// Validate reports whether the event can be stored.
func (e *Event) Validate() error {
	switch {
	case e.EntityID == "":
		return errMissingEntityID
	case e.OccurredAt.IsZero():
		return errMissingOccurredAt
	case e.DurationMs < 0:
		return errNegativeDuration
	}
	return nil
}

// DateOf returns the UTC calendar date of t as YYYY-MM-DD.
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// TimeFromMillis rebuilds OccurredAt from a stored epoch-ms value.
func TimeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// CompareNewestFirst orders events by OccurredAt descending, then EntityID
// ascending so equal instants sort deterministically.
func CompareNewestFirst(a, b Event) int {
	if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
		return c
	}
	return cmp.Compare(a.EntityID, b.EntityID)
}

// SortNewestFirst sorts events in place with CompareNewestFirst.
func SortNewestFirst(events []Event) {
	slices.SortFunc(events, CompareNewestFirst)
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
