// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/replaylog/internal/auth"
	"github.com/tomtom215/replaylog/internal/database"
	"github.com/tomtom215/replaylog/internal/models"
	syncpkg "github.com/tomtom215/replaylog/internal/sync"
)

func decodeEvents(t *testing.T, env envelope) []models.Event {
	t.Helper()
	var events []models.Event
	if err := json.Unmarshal(env.Data, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	return events
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var health models.HealthStatus
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" || !health.DatabaseConnected || !health.CredentialAvailable {
		t.Errorf("health = %+v", health)
	}
	if health.Version != "test" {
		t.Errorf("Version = %q", health.Version)
	}

	for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready"} {
		if rec := env.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestHealthReady_StoreClosed(t *testing.T) {
	env := newTestEnv(t)
	_ = env.store.Close()

	rec := env.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestEvents_NewestFirstAndCached(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t,
		play("a", "X", "2024-01-01T10:00:00Z", 60000),
		play("b", "Y", "2024-01-02T10:00:00Z", 60000),
		play("a", "X", "2024-01-03T10:00:00Z", 60000),
	)

	rec := env.do(t, http.MethodGet, "/api/v1/events", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	first := decodeEnvelope(t, rec)
	events := decodeEvents(t, first)
	if len(events) != 3 || events[0].Date != "2024-01-03" || events[2].Date != "2024-01-01" {
		t.Fatalf("events = %+v", events)
	}
	if first.Metadata.Count == nil || *first.Metadata.Count != 3 {
		t.Errorf("count = %v", first.Metadata.Count)
	}
	if first.Metadata.Cached {
		t.Error("first response should not be cached")
	}

	second := decodeEnvelope(t, env.do(t, http.MethodGet, "/api/v1/events", "", nil))
	if !second.Metadata.Cached {
		t.Error("second response should be cached")
	}
}

func TestEvents_Limit(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t,
		play("a", "X", "2024-01-01T10:00:00Z", 1000),
		play("b", "X", "2024-01-02T10:00:00Z", 1000),
	)

	events := decodeEvents(t, decodeEnvelope(t, env.do(t, http.MethodGet, "/api/v1/events?limit=1", "", nil)))
	if len(events) != 1 || events[0].EntityID != "b" {
		t.Errorf("events = %+v", events)
	}

	for _, bad := range []string{"-5", "abc", "100001"} {
		rec := env.do(t, http.MethodGet, "/api/v1/events?limit="+bad, "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d", bad, rec.Code)
			continue
		}
		if e := decodeEnvelope(t, rec).Error; e == nil || e.Code != ErrCodeValidation {
			t.Errorf("limit=%s error = %+v", bad, e)
		}
	}
}

func TestEventsRange(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t,
		play("a", "X", "2024-01-01T23:59:59Z", 1000),
		play("b", "X", "2024-01-02T00:00:00Z", 1000),
		play("c", "X", "2024-01-03T12:00:00Z", 1000),
		play("d", "X", "2024-01-04T00:00:00Z", 1000),
	)

	events := decodeEvents(t, decodeEnvelope(t, env.do(t, http.MethodGet, "/api/v1/events/range?start=2024-01-02&end=2024-01-03", "", nil)))
	if len(events) != 2 || events[0].EntityID != "c" || events[1].EntityID != "b" {
		t.Errorf("events = %+v", events)
	}

	tests := []string{
		"/api/v1/events/range?start=2024-01-02",
		"/api/v1/events/range?start=2024-13-01&end=2024-01-03",
		"/api/v1/events/range?start=01/02/2024&end=2024-01-03",
	}
	for _, target := range tests {
		if rec := env.do(t, http.MethodGet, target, "", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", target, rec.Code)
		}
	}
}

func TestEventsByDate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t,
		play("a", "X", "2024-01-01T08:00:00Z", 1000),
		play("b", "X", "2024-01-01T09:00:00Z", 1000),
		play("c", "X", "2024-01-02T09:00:00Z", 1000),
	)

	events := decodeEvents(t, decodeEnvelope(t, env.do(t, http.MethodGet, "/api/v1/events/date/2024-01-01", "", nil)))
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/events/date/yesterday", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t,
		play("a", "X", "2024-01-01T10:00:00Z", 180000),
		play("a", "X", "2024-01-02T10:00:00Z", 180000),
		play("b", "Y", "2024-01-02T11:00:00Z", 120000),
	)

	rec := env.do(t, http.MethodGet, "/api/v1/stats?top=1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var stats StatsResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.PlayCountByEntity["a"] != 2 || stats.PlayCountByEntity["b"] != 1 {
		t.Errorf("PlayCountByEntity = %v", stats.PlayCountByEntity)
	}
	if stats.TotalDurationMs != 480000 {
		t.Errorf("TotalDurationMs = %d", stats.TotalDurationMs)
	}
	if len(stats.TopEntities) != 1 || stats.TopEntities[0].Key != "a" || stats.TopEntities[0].Name != "Song a" {
		t.Errorf("TopEntities = %+v", stats.TopEntities)
	}
	if len(stats.TopAttributions) != 1 || stats.TopAttributions[0].Key != "X" {
		t.Errorf("TopAttributions = %+v", stats.TopAttributions)
	}
}

func TestSyncStatus(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/sync/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status models.SyncStatus
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &status); err != nil {
		t.Fatal(err)
	}
	if !status.Running || status.Interval != "5m0s" {
		t.Errorf("status = %+v", status)
	}
}

func TestTriggerSync_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"in progress", syncpkg.ErrSyncInProgress, http.StatusConflict, ErrCodeSyncInProgress},
		{"no credential", fmt.Errorf("obtain credential: %w", auth.ErrCredentialUnavailable), http.StatusServiceUnavailable, ErrCodeCredentialUnavailable},
		{"unauthorized", fmt.Errorf("fetch: %w", syncpkg.ErrUpstreamUnauthorized), http.StatusBadGateway, ErrCodeUpstreamUnauthorized},
		{"transient", &syncpkg.UpstreamTransientError{StatusCode: 503}, http.StatusBadGateway, ErrCodeUpstreamUnavailable},
		{"store", &database.StoreError{Backend: "badger", Op: "merge", Err: database.ErrStoreIO}, http.StatusInternalServerError, ErrCodeDatabase},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.sync.err = tt.err

			rec := env.do(t, http.MethodPost, "/api/v1/sync", "", nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if e := decodeEnvelope(t, rec).Error; e == nil || e.Code != tt.code {
				t.Errorf("error = %+v, want code %s", e, tt.code)
			}
		})
	}
}

func TestTriggerSync_Success(t *testing.T) {
	env := newTestEnv(t)
	env.sync.result = models.SyncResult{Trigger: syncpkg.TriggerManual, Pages: 2, Fetched: 60, Added: 10}

	rec := env.do(t, http.MethodPost, "/api/v1/sync", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var result models.SyncResult
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Added != 10 || result.Pages != 2 {
		t.Errorf("result = %+v", result)
	}
	if env.sync.calls != 1 {
		t.Errorf("TriggerSync calls = %d", env.sync.calls)
	}
}

const importCSV = `date,entity_id,entity_name,attribution_names,group_name,duration_ms,popularity,occurred_at
2024-01-01,t1,First,A;B,Album,200000,50,2024-01-01T10:00:00Z
2024-01-01,t1,First,A;B,Album,200000,50,2024-01-01T10:00:00Z
2024-01-02,t2,Second,C,Album,100000,,2024-01-02T10:00:00Z
`

func TestImport(t *testing.T) {
	env := newTestEnv(t)

	// Prime the cache so the import has something to invalidate.
	env.do(t, http.MethodGet, "/api/v1/events", "", nil)

	rec := env.do(t, http.MethodPost, "/api/v1/import", importCSV, map[string]string{"Content-Type": "text/csv"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var result models.ImportResult
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Rows != 3 || result.Added != 2 {
		t.Errorf("result = %+v, want rows 3 added 2", result)
	}

	after := decodeEnvelope(t, env.do(t, http.MethodGet, "/api/v1/events", "", nil))
	if after.Metadata.Cached || len(decodeEvents(t, after)) != 2 {
		t.Errorf("events after import: cached=%v body=%s", after.Metadata.Cached, after.Data)
	}

	snap, _ := env.agg.Cached()
	if snap.PlayCountByAttribution["A"] != 1 || snap.PlayCountByAttribution["C"] != 1 {
		t.Errorf("aggregate not refreshed: %v", snap.PlayCountByAttribution)
	}

	published := env.notifier.published()
	if len(published) != 1 || published[0].Source != "import" || published[0].Added != 2 {
		t.Errorf("published = %+v", published)
	}

	// Importing the same payload again adds nothing and publishes nothing.
	rec = env.do(t, http.MethodPost, "/api/v1/import", importCSV, nil)
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Added != 0 {
		t.Errorf("re-import added %d", result.Added)
	}
	if len(env.notifier.published()) != 1 {
		t.Error("re-import should not publish")
	}
}

func TestImport_Multipart(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "history.csv")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte(importCSV))
	_ = mw.Close()

	rec := env.do(t, http.MethodPost, "/api/v1/import", body.String(), map[string]string{"Content-Type": mw.FormDataContentType()})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if n, _ := env.store.Count(context.Background()); n != 2 {
		t.Errorf("store count = %d, want 2", n)
	}
}

func TestImport_MalformedWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	payload := `entity_id,occurred_at,duration_ms
t1,2024-01-01T10:00:00Z,1000
t2,not-a-time,1000
`
	rec := env.do(t, http.MethodPost, "/api/v1/import", payload, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if e := decodeEnvelope(t, rec).Error; e == nil || e.Code != ErrCodeMalformedImport {
		t.Errorf("error = %+v", e)
	}
	if n, _ := env.store.Count(context.Background()); n != 0 {
		t.Errorf("store count = %d, want 0", n)
	}
	if len(env.notifier.published()) != 0 {
		t.Error("malformed import should not publish")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestEnv(t)
	src.seed(t,
		play("a", "X;Y", "2024-01-01T10:00:00.123Z", 1000),
		play("b", "Z", "2024-01-02T10:00:00Z", 2000),
	)

	rec := src.do(t, http.MethodGet, "/api/v1/export", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	rows, err := csv.NewReader(bytes.NewReader(rec.Body.Bytes())).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[1][1] != "a" {
		t.Fatalf("rows = %v", rows)
	}

	dst := newTestEnv(t)
	rec = dst.do(t, http.MethodPost, "/api/v1/import", rec.Body.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", rec.Code, rec.Body)
	}

	want, _ := src.store.All(context.Background())
	got, _ := dst.store.All(context.Background())
	if len(got) != len(want) {
		t.Fatalf("round trip len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key() != want[i].Key() || strings.Join(got[i].AttributionNames, "|") != strings.Join(want[i].AttributionNames, "|") {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestClearEvents(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, play("a", "X", "2024-01-01T10:00:00Z", 1000))
	env.do(t, http.MethodGet, "/api/v1/stats", "", nil)

	rec := env.do(t, http.MethodDelete, "/api/v1/events", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if n, _ := env.store.Count(context.Background()); n != 0 {
		t.Errorf("count = %d after clear", n)
	}

	var stats StatsResponse
	_ = json.Unmarshal(decodeEnvelope(t, env.do(t, http.MethodGet, "/api/v1/stats", "", nil)).Data, &stats)
	if stats.EventCount != 0 || len(stats.PlayCountByEntity) != 0 {
		t.Errorf("stats after clear = %+v", stats.AggregateSnapshot)
	}
}

func TestMutatingRoutesRequireJWT(t *testing.T) {
	env := newTestEnv(t)
	manager, err := auth.NewJWTManager(strings.Repeat("s", 32), 0)
	if err != nil {
		t.Fatal(err)
	}
	server := NewRouter(env.handler, NewChiMiddleware(&ChiMiddlewareConfig{RateLimitDisabled: true}), manager).SetupChi()

	call := func(method, target, token string) int {
		req := httptest.NewRequest(method, target, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call(http.MethodPost, "/api/v1/sync", ""); code != http.StatusUnauthorized {
		t.Errorf("POST /sync without token = %d", code)
	}
	if code := call(http.MethodDelete, "/api/v1/events", "garbage"); code != http.StatusUnauthorized {
		t.Errorf("DELETE /events with bad token = %d", code)
	}
	if code := call(http.MethodGet, "/api/v1/events", ""); code != http.StatusOK {
		t.Errorf("GET /events without token = %d", code)
	}

	token, err := manager.GenerateToken("admin", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if code := call(http.MethodPost, "/api/v1/sync", token); code != http.StatusOK {
		t.Errorf("POST /sync with token = %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/events", "", nil)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "replaylog_api_requests_total") {
		t.Error("metrics output missing API request counter")
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}
