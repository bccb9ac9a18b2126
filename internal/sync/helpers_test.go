// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package sync

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/replaylog/internal/config"
)

var fixtureBase = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fixturePlayedAt is the timestamp of the i-th most recent fixture play.
func fixturePlayedAt(i int) time.Time {
	return fixtureBase.Add(-time.Duration(i) * time.Minute)
}

// pagedUpstream serves "recently played" pages of the given sizes. Item i
// across all pages is played one minute before item i-1.
type pagedUpstream struct {
	t      *testing.T
	server *httptest.Server
	sizes  []int
	token  string // expected bearer credential; empty accepts any

	mu      sync.Mutex
	calls   int
	befores []int64
	limits  []int
}

func newPagedUpstream(t *testing.T, sizes ...int) *pagedUpstream {
	t.Helper()
	u := &pagedUpstream{t: t, sizes: sizes}
	u.server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.server.Close)
	return u
}

func (u *pagedUpstream) serve(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || (u.token != "" && auth != "Bearer "+u.token) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"status":401,"message":"The access token expired"}}`)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	var before int64
	if b := r.URL.Query().Get("before"); b != "" {
		before, _ = strconv.ParseInt(b, 10, 64)
	}

	u.mu.Lock()
	page := u.calls
	u.calls++
	u.befores = append(u.befores, before)
	u.limits = append(u.limits, limit)
	u.mu.Unlock()

	size := 0
	if page < len(u.sizes) {
		size = u.sizes[page]
	}
	offset := 0
	for i := 0; i < page && i < len(u.sizes); i++ {
		offset += u.sizes[i]
	}

	items := make([]map[string]interface{}, 0, size)
	for i := 0; i < size; i++ {
		n := offset + i
		items = append(items, map[string]interface{}{
			"played_at": fixturePlayedAt(n).Format(time.RFC3339Nano),
			"track": map[string]interface{}{
				"id":          fmt.Sprintf("track-%d", n%7),
				"name":        fmt.Sprintf("Track %d", n%7),
				"duration_ms": 180000,
				"artists":     []map[string]string{{"id": "a1", "name": "Artist One"}},
				"album":       map[string]string{"id": "al1", "name": "Album"},
			},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items, "limit": limit})
}

func (u *pagedUpstream) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func (u *pagedUpstream) beforeParams() []int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]int64(nil), u.befores...)
}

func testUpstreamConfig(baseURL string) *config.UpstreamConfig {
	return &config.UpstreamConfig{
		BaseURL:        baseURL,
		RecentPath:     "/v1/me/player/recently-played",
		PageLimit:      50,
		MaxPages:       1000,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(testUpstreamConfig(baseURL), nil)
}

func checkIntEqual(t *testing.T, name string, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %d, want %d", name, got, want)
	}
}
