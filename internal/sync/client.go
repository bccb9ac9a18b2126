// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/replaylog/internal/config"
	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/metrics"
	"github.com/tomtom215/replaylog/internal/models"
)

// maxErrorBodySize bounds how much of an error response is read.
const maxErrorBodySize = 64 * 1024

// PageSource fetches one page of recent plays. Client implements it.
type PageSource interface {
	RecentlyPlayed(ctx context.Context, credential string, limit int, before int64) (*models.RecentlyPlayedPage, error)
}

// Client talks to the upstream "recently played" endpoint.
type Client struct {
	endpoint       string
	httpClient     *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
	requestTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker[*models.RecentlyPlayedPage]
	breakerName    string
}

// NewClient creates an upstream client. A nil httpClient gets a default one.
func NewClient(cfg *config.UpstreamConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		endpoint:       strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.RecentPath, "/"),
		httpClient:     httpClient,
		limiter:        rate.NewLimiter(limit, burst),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		requestTimeout: cfg.RequestTimeout,
		breaker:        newUpstreamBreaker(upstreamBreakerName),
		breakerName:    upstreamBreakerName,
	}
}

// RecentlyPlayed requests up to limit plays older than before (epoch ms).
// before <= 0 requests the newest page.
func (c *Client) RecentlyPlayed(ctx context.Context, credential string, limit int, before int64) (*models.RecentlyPlayedPage, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	page, err := c.breaker.Execute(func() (*models.RecentlyPlayedPage, error) {
		return c.fetchPage(ctx, credential, limit, before)
	})
	if err := recordBreakerResult(c.breakerName, err); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) fetchPage(ctx context.Context, credential string, limit int, before int64) (*models.RecentlyPlayedPage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if before > 0 {
		params.Set("before", strconv.FormatInt(before, 10))
	}
	reqURL := c.endpoint + "?" + params.Encode()

	resp, err := c.doRequestWithRateLimit(ctx, reqURL, credential)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		body := readBodyForError(resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnauthorized, string(body))
	case resp.StatusCode >= 500:
		body := readBodyForError(resp.Body)
		return nil, &UpstreamTransientError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server error: %s", string(body)),
		}
	default:
		return nil, &UpstreamStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(readBodyForError(resp.Body)),
		}
	}

	var page models.RecentlyPlayedPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to decode recent plays: %w", err)
	}
	return &page, nil
}

// doRequestWithRateLimit performs the GET, waiting on the local limiter
// before each attempt. HTTP 429 is retried with exponential backoff
// (base, 2x base, 4x base...) unless the upstream sends Retry-After.
// Any other response is returned to the caller with its body open.
func (c *Client) doRequestWithRateLimit(ctx context.Context, reqURL, credential string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &UpstreamTransientError{Err: fmt.Errorf("rate limiter: %w", err)}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+credential)
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		metrics.UpstreamRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.UpstreamRequests.WithLabelValues("error").Inc()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &UpstreamTransientError{Err: fmt.Errorf("HTTP request failed: %w", err)}
		}
		metrics.UpstreamRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		delay := retryDelay(resp.Header.Get("Retry-After"), c.retryBaseDelay, attempt)
		_ = resp.Body.Close()

		if attempt >= c.maxRetries {
			return nil, &UpstreamTransientError{
				StatusCode: http.StatusTooManyRequests,
				Err:        fmt.Errorf("rate limit exceeded after %d retries", c.maxRetries),
			}
		}

		metrics.UpstreamRetries.Inc()
		logging.Warn().Int("attempt", attempt+1).Dur("delay", delay).Msg("Upstream rate limited, backing off")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// retryDelay honours Retry-After (delta seconds or HTTP date) and falls back
// to base * 2^attempt.
func retryDelay(retryAfter string, base time.Duration, attempt int) time.Duration {
	if retryAfter != "" {
		if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		if at, err := http.ParseTime(retryAfter); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
			return 0
		}
	}
	return base * time.Duration(1<<uint(attempt))
}

// readBodyForError reads at most maxErrorBodySize bytes for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize+1))
	if err != nil && !errors.Is(err, io.EOF) {
		return []byte("(failed to read response body)")
	}
	if len(body) > maxErrorBodySize {
		return append(body[:maxErrorBodySize], []byte("... (truncated)")...)
	}
	return body
}
