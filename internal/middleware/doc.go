// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

// Package middleware provides the HTTP middleware applied to every API route:
// request IDs bound to the logging context, Prometheus request metrics keyed
// by route pattern, and gzip compression for large JSON and CSV bodies.
//
// Middleware here has the http.HandlerFunc shape; the api package adapts it
// for chi.
package middleware
