// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/replaylog/internal/config"
	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/metrics"
)

// ErrCredentialUnavailable is returned when no valid upstream credential can
// be produced: there is no refresh token, or the refresh grant failed.
var ErrCredentialUnavailable = errors.New("credential unavailable")

// TokenProvider yields bearer credentials for the upstream history API.
type TokenProvider interface {
	// Credential returns a currently valid access token.
	Credential(ctx context.Context) (string, error)

	// Invalidate drops the cached access token so the next Credential call
	// obtains a fresh one.
	Invalidate()
}

const refreshFlightKey = "refresh"

// OAuth2Provider implements TokenProvider with the OAuth2 refresh-token grant.
type OAuth2Provider struct {
	oauth      oauth2.Config
	store      TokenStore
	seed       string
	skew       time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	cached *oauth2.Token
	flight singleflight.Group
}

// NewOAuth2Provider creates a provider that refreshes against cfg.TokenURL.
// cfg.RefreshToken is used until the store holds a rotated token. A nil
// httpClient uses http.DefaultClient.
func NewOAuth2Provider(cfg *config.AuthConfig, store TokenStore, httpClient *http.Client) *OAuth2Provider {
	style := oauth2.AuthStyleInHeader
	if cfg.ClientSecret == "" {
		style = oauth2.AuthStyleInParams
	}
	if store == nil {
		store = NewMemoryTokenStore()
	}
	return &OAuth2Provider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: style,
			},
		},
		store:      store,
		seed:       cfg.RefreshToken,
		skew:       cfg.ExpirySkew,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// NewTokenProvider builds the provider described by cfg. Without a token URL
// the configured access token is used as a fixed credential.
func NewTokenProvider(cfg *config.AuthConfig, store TokenStore, httpClient *http.Client) TokenProvider {
	if cfg.TokenURL == "" {
		return NewStaticTokenProvider(cfg.AccessToken)
	}
	return NewOAuth2Provider(cfg, store, httpClient)
}

// Credential returns the cached access token, refreshing it when it is
// missing or expires within the skew window.
func (p *OAuth2Provider) Credential(ctx context.Context) (string, error) {
	if tok := p.current(); tok != nil {
		return tok.AccessToken, nil
	}

	// The refresh runs detached from any single caller so that one caller
	// giving up does not fail the others waiting on the same flight.
	ch := p.flight.DoChan(refreshFlightKey, func() (interface{}, error) {
		return p.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*oauth2.Token).AccessToken, nil
	}
}

// Invalidate drops the cached access token.
func (p *OAuth2Provider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
	logging.Debug().Msg("Upstream access token invalidated")
}

// current returns the cached token if it is still usable.
func (p *OAuth2Provider) current() *oauth2.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.usable(p.cached) {
		return p.cached
	}
	return nil
}

func (p *OAuth2Provider) usable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return p.now().Add(p.skew).Before(tok.Expiry)
}

func (p *OAuth2Provider) refresh(ctx context.Context) (*oauth2.Token, error) {
	// A caller that missed the previous flight may arrive after it finished.
	if tok := p.current(); tok != nil {
		return tok, nil
	}

	refreshToken, err := p.refreshToken(ctx)
	if err != nil {
		return nil, err
	}

	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	tok, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		logging.Warn().Err(err).Msg("Access token refresh failed")
		return nil, fmt.Errorf("%w: refresh grant: %w", ErrCredentialUnavailable, err)
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()

	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		if err := p.store.Save(ctx, tok.RefreshToken); err != nil {
			// The new access token is still good for this process.
			logging.Error().Err(err).Msg("Failed to persist rotated refresh token")
		} else {
			logging.Info().Msg("Rotated refresh token persisted")
		}
	}

	p.mu.Lock()
	p.cached = tok
	p.mu.Unlock()

	logging.Debug().Time("expiry", tok.Expiry).Msg("Access token refreshed")
	return tok, nil
}

// refreshToken prefers the stored token and falls back to the configured seed.
func (p *OAuth2Provider) refreshToken(ctx context.Context) (string, error) {
	stored, err := p.store.Load(ctx)
	switch {
	case err == nil && stored != "":
		return stored, nil
	case err != nil && !errors.Is(err, ErrTokenNotFound):
		logging.Warn().Err(err).Msg("Token store unreadable, using configured refresh token")
	}
	if p.seed == "" {
		metrics.TokenRefreshes.WithLabelValues("no_refresh_token").Inc()
		return "", fmt.Errorf("%w: no refresh token", ErrCredentialUnavailable)
	}
	return p.seed, nil
}

// StaticTokenProvider serves a fixed access token. Invalidate clears it, after
// which Credential reports ErrCredentialUnavailable until Set is called.
type StaticTokenProvider struct {
	mu    sync.RWMutex
	token string
}

// NewStaticTokenProvider creates a provider for a fixed token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// Credential returns the fixed token.
func (s *StaticTokenProvider) Credential(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrCredentialUnavailable
	}
	return s.token, nil
}

// Invalidate clears the token.
func (s *StaticTokenProvider) Invalidate() {
	s.Set("")
}

// Set replaces the token.
func (s *StaticTokenProvider) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}
