// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package database

import (
	"errors"
	"fmt"
	"io"

	"github.com/tomtom215/replaylog/internal/logging"
)

var (
	// ErrStoreIO marks a failed read or write against the backing store.
	ErrStoreIO = errors.New("store I/O failure")

	// ErrStoreCorrupt marks persisted data that cannot be decoded.
	ErrStoreCorrupt = errors.New("store corrupted")

	// ErrMalformedImport marks a CSV payload rejected before any write.
	ErrMalformedImport = errors.New("malformed import")

	// ErrInvalidEvent marks an event missing its identity fields.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidDate marks a date argument that is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")
)

// StoreError carries the backend and operation of a storage failure. It
// unwraps to ErrStoreIO or ErrStoreCorrupt plus the underlying cause.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func ioError(backend, op string, err error) error {
	return &StoreError{Backend: backend, Op: op, Err: fmt.Errorf("%w: %w", ErrStoreIO, err)}
}

func corruptError(backend, op string, err error) error {
	return &StoreError{Backend: backend, Op: op, Err: fmt.Errorf("%w: %w", ErrStoreCorrupt, err)}
}

// closeWithLog closes a resource and logs a failure instead of returning it.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource on an error path where the close error is
// not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
