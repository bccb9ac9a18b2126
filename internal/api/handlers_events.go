// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/replaylog/internal/aggregate"
	"github.com/tomtom215/replaylog/internal/cache"
	"github.com/tomtom215/replaylog/internal/models"
)

// StatsResponse is the aggregate snapshot plus ranked views of its counts.
type StatsResponse struct {
	models.AggregateSnapshot
	TopEntities     []aggregate.Ranked `json:"top_entities"`
	TopAttributions []aggregate.Ranked `json:"top_attributions"`
}

// cachedOrCompute returns the cached value for key or stores the result of
// compute. Errors are never cached, and neither is a result computed across
// a Clear, since it may predate the merge that caused it.
func (h *Handler) cachedOrCompute(key string, compute func() (interface{}, error)) (interface{}, bool, error) {
	gen := h.cache.Generation()
	if v, ok := h.cache.Get(key); ok {
		return v, true, nil
	}
	v, err := compute()
	if err != nil {
		return nil, false, err
	}
	h.cache.SetIfGeneration(key, v, gen)
	return v, false, nil
}

func (h *Handler) respondEvents(w http.ResponseWriter, key string, start time.Time, load func() ([]models.Event, error)) {
	data, hit, err := h.cachedOrCompute(key, func() (interface{}, error) {
		events, err := load()
		if events == nil {
			events = []models.Event{}
		}
		return events, err
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	events, _ := data.([]models.Event)
	count := len(events)
	respondSuccess(w, events, start, hit, &count)
}

// Events returns the full history newest first, or the latest ?limit=N.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := EventsRequest{Limit: intParam(r, "limit", 0)}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	ctx := r.Context()
	h.respondEvents(w, cache.GenerateKey("Events", req), start, func() ([]models.Event, error) {
		if req.Limit > 0 {
			return h.store.Recent(ctx, req.Limit)
		}
		return h.store.All(ctx)
	})
}

// EventsRange returns events whose UTC date lies in [start, end]. A start
// after end yields an empty list.
func (h *Handler) EventsRange(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	req := RangeRequest{Start: q.Get("start"), End: q.Get("end")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	ctx := r.Context()
	h.respondEvents(w, cache.GenerateKey("EventsRange", req), start, func() ([]models.Event, error) {
		return h.store.Range(ctx, req.Start, req.End)
	})
}

// EventsByDate returns the events of one UTC date.
func (h *Handler) EventsByDate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := DateRequest{Date: chi.URLParam(r, "date")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	ctx := r.Context()
	h.respondEvents(w, cache.GenerateKey("EventsByDate", req), start, func() ([]models.Event, error) {
		return h.store.ByDate(ctx, req.Date)
	})
}

// Stats returns the aggregate snapshot with the top ?top=N (default 10)
// entities and attributions. top=0 ranks every key.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := StatsRequest{Top: intParam(r, "top", 10)}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	data, hit, err := h.cachedOrCompute(cache.GenerateKey("Stats", req), func() (interface{}, error) {
		return h.stats(r.Context(), req.Top)
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondSuccess(w, data, start, hit, nil)
}

func (h *Handler) stats(ctx context.Context, top int) (*StatsResponse, error) {
	snap, err := h.aggregator.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsResponse{
		AggregateSnapshot: snap,
		TopEntities:       aggregate.TopN(snap.PlayCountByEntity, snap.EntityNames, top),
		TopAttributions:   aggregate.TopN(snap.PlayCountByAttribution, nil, top),
	}, nil
}
