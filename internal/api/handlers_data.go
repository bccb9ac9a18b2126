// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/replaylog/internal/database"
	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/models"
	ws "github.com/tomtom215/replaylog/internal/websocket"
)

// MaxImportBytes bounds the size of an import body.
const MaxImportBytes = 64 << 20

// Export streams the full history as CSV, oldest first.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	// Buffer so a store failure can still be reported as JSON.
	var buf bytes.Buffer
	rows, err := database.ExportCSV(r.Context(), h.store, &buf)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	filename := fmt.Sprintf("replaylog-%s.csv", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Row-Count", fmt.Sprint(rows))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Export write interrupted")
	}
}

// Import merges a CSV payload. The whole payload is parsed before any
// write; a malformed row rejects it with 400 and the history is unchanged.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, MaxImportBytes)

	body, closeBody, err := importBody(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer closeBody()

	ctx := r.Context()
	result, err := database.ImportCSV(ctx, h.store, body)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if result.Added > 0 {
		h.afterMerge(ctx, result)
	}

	logging.Ctx(ctx).Info().
		Int("rows", result.Rows).
		Int("added", result.Added).
		Msg("History import completed")
	respondSuccess(w, result, start, false, nil)
}

// importBody accepts a raw CSV body or a multipart form with a "file" part.
func importBody(r *http.Request) (io.Reader, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, func() {}, nil
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: multipart field \"file\": %w", database.ErrMalformedImport, err)
	}
	return file, func() { _ = file.Close() }, nil
}

// afterMerge rebuilds the snapshot and announces the change. Failures are
// logged; the merge itself already succeeded.
func (h *Handler) afterMerge(ctx context.Context, result models.ImportResult) {
	if _, err := h.aggregator.Refresh(ctx); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Aggregate refresh after import failed")
	}
	h.Clear()

	if h.notifier == nil {
		return
	}
	event := models.HistoryMerged{
		ID:          uuid.NewString(),
		Added:       result.Added,
		Fetched:     result.Rows,
		Source:      "import",
		CompletedAt: time.Now().UTC(),
	}
	if err := h.notifier.PublishMerged(ctx, event); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to publish import notification")
	}
}

// ClearEvents deletes the whole history and resets the snapshot.
func (h *Handler) ClearEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.store.Clear(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	h.aggregator.Reset()
	h.Clear()
	if h.wsHub != nil {
		h.wsHub.BroadcastJSON(ws.MessageTypeHistoryClear, map[string]interface{}{
			"cleared_at": time.Now().UTC(),
		})
	}

	logging.Ctx(r.Context()).Warn().Msg("Event history cleared")
	respondSuccess(w, models.ClearResult{Cleared: true}, start, false, nil)
}
