// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/replaylog/internal/logging"
)

// SyncStatus reports the scheduler state.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Sync is not configured", nil)
		return
	}
	respondSuccess(w, h.sync.Status(), time.Now(), false, nil)
}

// TriggerSync runs one sync and returns its result. A run already in
// progress answers 409 instead of waiting.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Sync is not configured", nil)
		return
	}

	start := time.Now()
	// The run keeps going if the client disconnects; it has its own timeout.
	ctx := context.WithoutCancel(r.Context())
	result, err := h.sync.TriggerSync(ctx)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Int("added", result.Added).
		Int("fetched", result.Fetched).
		Msg("Manual sync completed")
	respondSuccess(w, result, start, false, nil)
}
