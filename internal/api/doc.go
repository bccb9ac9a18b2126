// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

/*
Package api exposes the event history over HTTP using the chi router.

Every JSON endpoint answers with the models.APIResponse envelope:

	{"status":"success","data":...,"metadata":{"timestamp":"...","query_time_ms":2}}

Routes under /api/v1:

	GET    /health, /health/live, /health/ready
	GET    /events              full history, newest first (?limit=N for the latest N)
	GET    /events/range        ?start=YYYY-MM-DD&end=YYYY-MM-DD, inclusive UTC dates
	GET    /events/date/{date}  one UTC date
	GET    /stats               aggregate snapshot plus top entities and attributions
	GET    /sync/status         scheduler state
	POST   /sync                run a sync now
	DELETE /events              clear the history
	GET    /export              CSV export
	POST   /import              CSV import (raw body or multipart "file")
	GET    /ws                  WebSocket change notifications

Read responses are cached until the next merge or clear. Mutating routes
require a bearer JWT when security.auth_mode is "jwt".
*/
package api
