// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSyncOperation(t *testing.T) {
	successBefore := testutil.ToFloat64(SyncRuns.WithLabelValues("success"))
	errorBefore := testutil.ToFloat64(SyncRuns.WithLabelValues("error"))
	transientBefore := testutil.ToFloat64(SyncErrors.WithLabelValues("transient"))
	addedBefore := testutil.ToFloat64(SyncEventsAdded)

	RecordSyncOperation(2*time.Second, 137, 37, "")
	RecordSyncOperation(time.Second, 0, 0, "transient")

	if got := testutil.ToFloat64(SyncRuns.WithLabelValues("success")) - successBefore; got != 1 {
		t.Errorf("success runs delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(SyncRuns.WithLabelValues("error")) - errorBefore; got != 1 {
		t.Errorf("error runs delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(SyncErrors.WithLabelValues("transient")) - transientBefore; got != 1 {
		t.Errorf("transient errors delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(SyncEventsAdded) - addedBefore; got != 37 {
		t.Errorf("events added delta = %v, want 37", got)
	}
	if testutil.ToFloat64(SyncLastSuccess) == 0 {
		t.Error("SyncLastSuccess not set after a successful run")
	}
}

func TestRecordSyncSkipped(t *testing.T) {
	before := testutil.ToFloat64(SyncRuns.WithLabelValues("skipped_overlap"))
	RecordSyncSkipped("overlap")
	if got := testutil.ToFloat64(SyncRuns.WithLabelValues("skipped_overlap")) - before; got != 1 {
		t.Errorf("skipped_overlap delta = %v, want 1", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/stats", "200"))
	RecordAPIRequest("GET", "/api/v1/stats", "200", 15*time.Millisecond)
	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/stats", "200")) - before; got != 1 {
		t.Errorf("request counter delta = %v, want 1", got)
	}
}

func TestTrackActiveRequest_Concurrent(t *testing.T) {
	start := testutil.ToFloat64(APIActiveRequests)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			TrackActiveRequest(true)
			TrackActiveRequest(false)
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(APIActiveRequests); got != start {
		t.Errorf("active requests = %v, want %v after balanced calls", got, start)
	}
}
