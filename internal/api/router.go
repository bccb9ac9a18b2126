// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/replaylog/internal/auth"
	"github.com/tomtom215/replaylog/internal/middleware"
)

// chiMiddleware adapts http.HandlerFunc middleware to chi's r.Use shape.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Router sets up HTTP routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	jwtManager    *auth.JWTManager // nil disables auth on mutating routes
}

// NewRouter creates a Router. A nil jwtManager leaves mutating routes open.
func NewRouter(handler *Handler, mw *ChiMiddleware, jwtManager *auth.JWTManager) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw, jwtManager: jwtManager}
}

func (router *Router) requireAuth() func(http.Handler) http.Handler {
	if router.jwtManager == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return auth.RequireJWT(router.jwtManager)
}

// SetupChi builds the chi handler for every route.
func (router *Router) SetupChi() http.Handler {
	h := router.handler
	r := chi.NewRouter()

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Get("/", h.Health)
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		// WebSocket upgrades need the raw connection.
		r.Get("/ws", h.WebSocket)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware(middleware.Compression))

			r.Get("/events", h.Events)
			r.Get("/events/range", h.EventsRange)
			r.Get("/events/date/{date}", h.EventsByDate)
			r.Get("/stats", h.Stats)
			r.Get("/sync/status", h.SyncStatus)
			r.Get("/export", h.Export)

			r.Group(func(r chi.Router) {
				r.Use(router.requireAuth())
				r.Post("/sync", h.TriggerSync)
				r.Post("/import", h.Import)
				r.Delete("/events", h.ClearEvents)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
