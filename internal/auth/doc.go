// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

/*
Package auth supplies upstream credentials and guards the mutating HTTP API.

Upstream credentials come from a TokenProvider. OAuth2Provider caches a
short-lived access token and obtains a new one through the OAuth2
refresh-token grant when the cached token is missing, expired, or within the
configured expiry skew. Concurrent callers that find the cache empty share a
single refresh. Rotated refresh tokens are written to a TokenStore, which can
be backed by BadgerDB and encrypted with AES-256-GCM.

When no credential can be produced, Credential returns an error wrapping
ErrCredentialUnavailable. Callers skip their work rather than retry.

For the HTTP API, JWTManager issues and validates HS256 tokens and
RequireJWT rejects requests without a valid bearer token.
*/
package auth
