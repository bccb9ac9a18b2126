// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/replaylog/internal/aggregate"
	"github.com/tomtom215/replaylog/internal/config"
	"github.com/tomtom215/replaylog/internal/database"
	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/models"
)

//nolint:gochecknoinits // quiet logs for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

type fakeSync struct {
	mu        sync.Mutex
	result    models.SyncResult
	err       error
	calls     int
	lastSync  time.Time
	available bool
}

func (f *fakeSync) TriggerSync(ctx context.Context) (models.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeSync) Status() models.SyncStatus {
	return models.SyncStatus{Running: true, Interval: "5m0s", CredentialAvailable: f.available}
}

func (f *fakeSync) LastSyncTime() time.Time { return f.lastSync }
func (f *fakeSync) CredentialAvailable() bool { return f.available }

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.HistoryMerged
}

func (n *recordingNotifier) PublishMerged(_ context.Context, ev models.HistoryMerged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) published() []models.HistoryMerged {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.HistoryMerged(nil), n.events...)
}

type testEnv struct {
	store    database.EventStore
	agg      *aggregate.Service
	sync     *fakeSync
	notifier *recordingNotifier
	handler  *Handler
	server   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := database.NewBadgerStore("")
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store:    store,
		agg:      aggregate.NewService(store, 0),
		sync:     &fakeSync{available: true},
		notifier: &recordingNotifier{},
	}
	cfg := &config.Config{Security: config.SecurityConfig{RateLimitDisabled: true}}
	env.handler = NewHandler(Dependencies{
		Store:      env.store,
		Aggregator: env.agg,
		Sync:       env.sync,
		Notifier:   env.notifier,
		Config:     cfg,
		Version:    "test",
	})
	t.Cleanup(env.handler.Close)
	env.server = NewRouter(env.handler, NewChiMiddleware(ChiMiddlewareConfigFromSecurity(&cfg.Security)), nil).SetupChi()
	return env
}

func (env *testEnv) seed(t *testing.T, events ...models.Event) {
	t.Helper()
	if _, err := env.store.Merge(context.Background(), events); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := env.agg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

func (env *testEnv) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status   string           `json:"status"`
	Data     json.RawMessage  `json:"data"`
	Metadata models.Metadata  `json:"metadata"`
	Error    *models.APIError `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func play(entity, artist string, at string, durationMs int64) models.Event {
	ts, err := time.Parse(time.RFC3339, at)
	if err != nil {
		panic(err)
	}
	ev := models.Event{
		EntityID:         entity,
		EntityName:       "Song " + entity,
		AttributionNames: []string{artist},
		GroupName:        "Album",
		DurationMs:       durationMs,
		OccurredAt:       ts,
	}
	ev.Canonicalize()
	return ev
}
