// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/replaylog/internal/cache"
	"github.com/tomtom215/replaylog/internal/config"
	"github.com/tomtom215/replaylog/internal/database"
	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/models"
	ws "github.com/tomtom215/replaylog/internal/websocket"
)

// Aggregator serves and rebuilds the aggregate snapshot.
type Aggregator interface {
	Snapshot(ctx context.Context) (models.AggregateSnapshot, error)
	Refresh(ctx context.Context) (models.AggregateSnapshot, error)
	Reset()
}

// SyncController is the part of the sync manager the API drives.
type SyncController interface {
	TriggerSync(ctx context.Context) (models.SyncResult, error)
	Status() models.SyncStatus
	LastSyncTime() time.Time
	CredentialAvailable() bool
}

// MergeNotifier announces history changes made through the API.
type MergeNotifier interface {
	PublishMerged(ctx context.Context, event models.HistoryMerged) error
}

// Dependencies wires a Handler. Store and Aggregator are required.
type Dependencies struct {
	Store      database.EventStore
	Aggregator Aggregator
	Sync       SyncController
	Notifier   MergeNotifier
	Hub        *ws.Hub
	Cache      *cache.Cache
	Config     *config.Config
	Version    string
}

// Handler contains dependencies for API handlers.
//
// Handler methods are split across files:
//   - handlers_health.go: health probes
//   - handlers_events.go: history and aggregate reads
//   - handlers_sync.go: scheduler status and manual trigger
//   - handlers_data.go: export, import and clear
//   - handlers_websocket.go: WebSocket upgrade
type Handler struct {
	store      database.EventStore
	aggregator Aggregator
	sync       SyncController
	notifier   MergeNotifier
	wsHub      *ws.Hub
	cache      *cache.Cache
	config     *config.Config
	version    string
	startTime  time.Time
}

// NewHandler creates a Handler. A nil Cache gets a five minute response cache.
func NewHandler(deps Dependencies) *Handler {
	c := deps.Cache
	if c == nil {
		c = cache.New("api", 5*time.Minute)
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		store:      deps.Store,
		aggregator: deps.Aggregator,
		sync:       deps.Sync,
		notifier:   deps.Notifier,
		wsHub:      deps.Hub,
		cache:      c,
		config:     deps.Config,
		version:    version,
		startTime:  time.Now(),
	}
}

// Clear drops every cached response. It satisfies eventprocessor.CacheClearer.
func (h *Handler) Clear() {
	h.cache.Clear()
	logging.Debug().Msg("API response cache cleared")
}

// Close stops the response cache cleanup goroutine.
func (h *Handler) Close() {
	h.cache.Stop()
}

func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin accepts only origins listed in security.cors_origins.
// Browsers always send Origin, so a missing header is rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}
	if h.config == nil {
		return true
	}
	for _, allowed := range h.config.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
