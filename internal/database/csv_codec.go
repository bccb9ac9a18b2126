// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package database

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/replaylog/internal/models"
)

// CSVHeader is the column order of exports and of the flat-file backend.
var CSVHeader = []string{
	"date",
	"entity_id",
	"entity_name",
	"attribution_names",
	"group_name",
	"duration_ms",
	"popularity",
	"occurred_at",
}

const (
	attributionDelimiter = ';'
	attributionEscape    = '\\'
	occurredAtLayout     = "2006-01-02T15:04:05.000Z07:00"
)

// JoinAttributions joins names with ';', escaping ';' and '\' inside a name.
func JoinAttributions(names []string) string {
	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteByte(attributionDelimiter)
		}
		for _, r := range n {
			if r == attributionDelimiter || r == attributionEscape {
				b.WriteByte(attributionEscape)
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SplitAttributions reverses JoinAttributions. An empty field yields no names.
func SplitAttributions(field string) []string {
	names := []string{}
	if field == "" {
		return names
	}
	var cur strings.Builder
	escaped := false
	for _, r := range field {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == attributionEscape:
			escaped = true
		case r == attributionDelimiter:
			names = append(names, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(names, cur.String())
}

func encodeRecord(ev *models.Event) []string {
	popularity := ""
	if ev.Popularity != nil {
		popularity = strconv.Itoa(*ev.Popularity)
	}
	return []string{
		ev.Date,
		ev.EntityID,
		ev.EntityName,
		JoinAttributions(ev.AttributionNames),
		ev.GroupName,
		strconv.FormatInt(ev.DurationMs, 10),
		popularity,
		ev.OccurredAt.UTC().Format(occurredAtLayout),
	}
}

// columnIndex maps header names to positions.
type columnIndex map[string]int

func newColumnIndex(header []string) (columnIndex, error) {
	idx := make(columnIndex, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		idx[name] = i
	}
	for _, required := range []string{"entity_id", "occurred_at"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("%w: header has no %s column", ErrMalformedImport, required)
		}
	}
	return idx, nil
}

func (c columnIndex) get(rec []string, name string) string {
	if i, ok := c[name]; ok && i < len(rec) {
		return rec[i]
	}
	return ""
}

func parseOccurredAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func decodeRecord(c columnIndex, rec []string, line int) (models.Event, error) {
	malformed := func(field, reason string) error {
		return fmt.Errorf("%w: line %d: %s: %s", ErrMalformedImport, line, field, reason)
	}

	ev := models.Event{
		EntityID:         strings.TrimSpace(c.get(rec, "entity_id")),
		EntityName:       c.get(rec, "entity_name"),
		AttributionNames: SplitAttributions(c.get(rec, "attribution_names")),
		GroupName:        c.get(rec, "group_name"),
	}
	if ev.EntityID == "" {
		return ev, malformed("entity_id", "empty")
	}

	at, err := parseOccurredAt(c.get(rec, "occurred_at"))
	if err != nil {
		return ev, malformed("occurred_at", err.Error())
	}
	ev.OccurredAt = at

	if d := strings.TrimSpace(c.get(rec, "duration_ms")); d != "" {
		if ev.DurationMs, err = strconv.ParseInt(d, 10, 64); err != nil || ev.DurationMs < 0 {
			return ev, malformed("duration_ms", fmt.Sprintf("not a non-negative integer: %q", d))
		}
	}
	if p := strings.TrimSpace(c.get(rec, "popularity")); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil {
			return ev, malformed("popularity", fmt.Sprintf("not an integer: %q", p))
		}
		ev.Popularity = &v
	}

	ev.Canonicalize()
	return ev, nil
}

// readEvents parses a header plus rows. Every error wraps ErrMalformedImport.
func readEvents(r io.Reader) ([]models.Event, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header row", ErrMalformedImport)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedImport, err)
	}
	cols, err := newColumnIndex(header)
	if err != nil {
		return nil, err
	}

	var events []models.Event
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedImport, err)
		}
		ev, err := decodeRecord(cols, rec, line)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func writeRecords(w io.Writer, events []models.Event, withHeader bool) error {
	cw := csv.NewWriter(w)
	if withHeader {
		if err := cw.Write(CSVHeader); err != nil {
			return err
		}
	}
	for i := range events {
		if err := cw.Write(encodeRecord(&events[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes the full history to w, oldest first, with a header row.
// It returns the number of data rows written. Fields are quoted the way
// encoding/csv quotes them, so a "\r\n" inside a name reads back as "\n".
func ExportCSV(ctx context.Context, store EventStore, w io.Writer) (int, error) {
	events, err := store.All(ctx)
	if err != nil {
		return 0, err
	}
	slices.Reverse(events)
	if err := writeRecords(w, events, true); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(events), nil
}

// ImportCSV parses every row of r before merging them in one call, so a
// malformed payload writes nothing.
func ImportCSV(ctx context.Context, store EventStore, r io.Reader) (models.ImportResult, error) {
	events, err := readEvents(r)
	if err != nil {
		return models.ImportResult{}, err
	}
	added, err := store.Merge(ctx, events)
	if err != nil {
		return models.ImportResult{}, err
	}
	return models.ImportResult{Rows: len(events), Added: added}, nil
}
