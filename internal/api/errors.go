// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/replaylog/internal/auth"
	"github.com/tomtom215/replaylog/internal/database"
	syncpkg "github.com/tomtom215/replaylog/internal/sync"
	"github.com/tomtom215/replaylog/internal/validation"
)

// Error codes for API responses.
const (
	ErrCodeValidation            = validation.CodeValidationError
	ErrCodeMalformedImport       = "MALFORMED_IMPORT"
	ErrCodeDatabase              = "DATABASE_ERROR"
	ErrCodeUpstreamUnauthorized  = "UPSTREAM_UNAUTHORIZED"
	ErrCodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	ErrCodeCredentialUnavailable = "CREDENTIAL_UNAVAILABLE"
	ErrCodeSyncInProgress        = "SYNC_IN_PROGRESS"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	ErrCodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited           = "TOO_MANY_REQUESTS"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// classifyError maps a domain error to an HTTP status, code and message.
func classifyError(err error) (int, string, string) {
	var transient *syncpkg.UpstreamTransientError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.Is(err, syncpkg.ErrSyncInProgress):
		return http.StatusConflict, ErrCodeSyncInProgress, "A sync is already running"
	case errors.Is(err, auth.ErrCredentialUnavailable):
		return http.StatusServiceUnavailable, ErrCodeCredentialUnavailable, "No upstream credential is available"
	case errors.Is(err, syncpkg.ErrUpstreamUnauthorized):
		return http.StatusBadGateway, ErrCodeUpstreamUnauthorized, "Upstream rejected the credential"
	case errors.As(err, &transient):
		return http.StatusBadGateway, ErrCodeUpstreamUnavailable, "Upstream is temporarily unavailable"
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "Request body too large"
	case errors.Is(err, database.ErrMalformedImport):
		return http.StatusBadRequest, ErrCodeMalformedImport, err.Error()
	case errors.Is(err, database.ErrInvalidDate):
		return http.StatusBadRequest, ErrCodeValidation, err.Error()
	case errors.Is(err, database.ErrStoreIO), errors.Is(err, database.ErrStoreCorrupt):
		return http.StatusInternalServerError, ErrCodeDatabase, "A database error occurred"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout, "Operation timed out"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "Internal server error"
	}
}

func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := classifyError(err)
	respondError(w, status, code, message, err)
}
