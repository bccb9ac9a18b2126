// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replaylog_sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_sync_runs_total",
			Help: "Sync runs by outcome",
		},
		[]string{"result"}, // success, error, panic, skipped_overlap, skipped_no_credential
	)

	SyncEventsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replaylog_sync_events_fetched_total",
			Help: "Events returned by the upstream across all runs",
		},
	)

	SyncEventsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replaylog_sync_events_added_total",
			Help: "Events newly persisted by merges",
		},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_sync_errors_total",
			Help: "Sync errors by class",
		},
		[]string{"error_type"}, // credential_unavailable, unauthorized, transient, store, canceled, unknown
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replaylog_sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync",
		},
	)

	SyncPagesPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replaylog_sync_pages_per_run",
			Help:    "Upstream pages fetched per run",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 100, 1000},
		},
	)

	FetchPageCeilingHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replaylog_fetch_page_ceiling_hits_total",
			Help: "Fetches stopped by the maximum page ceiling",
		},
	)

	// Upstream
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_upstream_requests_total",
			Help: "Upstream HTTP requests by status code",
		},
		[]string{"status_code"},
	)

	UpstreamRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replaylog_upstream_request_duration_seconds",
			Help:    "Upstream request latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpstreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replaylog_upstream_retries_total",
			Help: "Upstream requests retried after a rate limit response",
		},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_token_refreshes_total",
			Help: "Credential refresh attempts by result",
		},
		[]string{"result"}, // success, failure, no_refresh_token
	)

	// Store and aggregation
	StoreMergeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replaylog_store_merge_duration_seconds",
			Help:    "Duration of store merges",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	AggregateRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replaylog_aggregate_refresh_duration_seconds",
			Help:    "Duration of aggregate snapshot recomputation",
			Buckets: prometheus.DefBuckets,
		},
	)

	AggregateEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replaylog_aggregate_events",
			Help: "Events covered by the current aggregate snapshot",
		},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replaylog_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replaylog_api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_api_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)

	// Response cache
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replaylog_cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_cache_evictions_total",
			Help: "Cache entries removed after TTL expiry",
		},
		[]string{"cache_type"},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replaylog_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replaylog_websocket_messages_sent_total",
			Help: "Messages written to WebSocket clients",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_websocket_errors_total",
			Help: "WebSocket errors by type",
		},
		[]string{"error_type"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replaylog_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Notifications
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_notifications_published_total",
			Help: "Merge notifications published by transport",
		},
		[]string{"transport"},
	)

	NotificationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaylog_notification_errors_total",
			Help: "Failures publishing or handling merge notifications",
		},
		[]string{"stage"}, // publish, handle
	)
)

// RecordSyncOperation records the outcome of one sync run. errorType is
// empty on success.
func RecordSyncOperation(duration time.Duration, fetched, added int, errorType string) {
	SyncDuration.Observe(duration.Seconds())
	SyncEventsFetched.Add(float64(fetched))
	SyncEventsAdded.Add(float64(added))
	if errorType != "" {
		SyncRuns.WithLabelValues("error").Inc()
		SyncErrors.WithLabelValues(errorType).Inc()
		return
	}
	SyncRuns.WithLabelValues("success").Inc()
	SyncLastSuccess.Set(float64(time.Now().Unix()))
}

// RecordSyncSkipped records a tick that did not run.
func RecordSyncSkipped(reason string) {
	SyncRuns.WithLabelValues("skipped_" + reason).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
