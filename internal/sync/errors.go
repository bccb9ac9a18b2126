// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/replaylog/internal/auth"
	"github.com/tomtom215/replaylog/internal/database"
)

var (
	// ErrUpstreamUnauthorized is returned when the upstream rejects the
	// credential with HTTP 401.
	ErrUpstreamUnauthorized = errors.New("upstream rejected credential")

	// ErrSyncInProgress is returned by TriggerSync while another run holds
	// the sync guard.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSyncPanicked wraps a panic recovered from a sync run.
	ErrSyncPanicked = errors.New("sync run panicked")
)

// UpstreamTransientError is a failure worth retrying on a later tick.
type UpstreamTransientError struct {
	StatusCode int // 0 for network failures and circuit rejections
	Err        error
}

func (e *UpstreamTransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream transient failure (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream transient failure: %v", e.Err)
}

func (e *UpstreamTransientError) Unwrap() error { return e.Err }

// UpstreamStatusError is any other unexpected upstream status.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream request failed with status %d: %s", e.StatusCode, e.Body)
}

// Error classes.
const (
	ClassCredentialUnavailable = "credential_unavailable"
	ClassUnauthorized          = "unauthorized"
	ClassTransient             = "transient"
	ClassStore                 = "store"
	ClassCanceled              = "canceled"
	ClassPanic                 = "panic"
	ClassUnknown               = "unknown"
)

// ClassifyError maps err to one of the Class constants. nil maps to "".
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	var transient *UpstreamTransientError
	var storeErr *database.StoreError
	switch {
	case errors.Is(err, ErrSyncPanicked):
		return ClassPanic
	case errors.Is(err, auth.ErrCredentialUnavailable):
		return ClassCredentialUnavailable
	case errors.Is(err, ErrUpstreamUnauthorized):
		return ClassUnauthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.As(err, &transient):
		return ClassTransient
	case errors.As(err, &storeErr),
		errors.Is(err, database.ErrStoreIO),
		errors.Is(err, database.ErrStoreCorrupt):
		return ClassStore
	default:
		return ClassUnknown
	}
}
