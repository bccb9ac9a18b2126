// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

/*
Package sync pulls listening history from the upstream API and merges it into
the event store on a schedule.

The pieces, bottom up:

  - Client issues one "recently played" request. It paces requests with a
    token bucket, retries HTTP 429 with backoff, and runs every request
    through a circuit breaker.
  - Fetcher walks pages newest to oldest using the oldest timestamp of the
    previous page as the "before" cursor, until a short page or the page
    ceiling.
  - Manager runs the fetch, merge and aggregate refresh once immediately and
    then on an interval. A tick that arrives while a run is in progress is
    skipped, never queued.

Error classes reported by ClassifyError are used as metric labels and log
fields:

	credential_unavailable  no usable upstream credential; the tick is skipped
	unauthorized            upstream returned 401; the credential is invalidated
	transient               429, 5xx, network failure or open circuit
	store                   the event store failed
	canceled                run timeout or shutdown
	unknown                 anything else
*/
package sync
