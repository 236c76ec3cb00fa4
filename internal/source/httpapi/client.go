// Package httpapi implements the HTTP client used to pull data from the
// member-administration API. It handles bearer authentication, bounded
// exponential backoff on transient failures (timeouts, 5xx, rate limiting),
// and a minimum spacing between requests so the remote rate limit is
// respected proactively rather than only after a 429.
//
// Client errors (4xx) never retry: a malformed filter will not get better by
// asking again. The caller receives a *StatusError carrying the retryability
// decision.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config configures the API client. Zero values get sensible defaults:
// Timeout 30s, MaxRetries 3, InitialBackoff 500ms, MaxBackoff 10s.
type Config struct {
	// BaseURL is prefixed to every endpoint path.
	BaseURL string

	// Token is the bearer token sent on every request.
	Token string

	// Timeout is the per-request timeout at the http.Client level.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the initial request.
	MaxRetries int

	// InitialBackoff is the first retry's backoff; doubled per retry up to
	// MaxBackoff. A 429 Retry-After header overrides the computed backoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MinInterval spaces out consecutive requests (rate-limit respect).
	MinInterval time.Duration

	// Transport is an optional custom RoundTripper, mainly for tests.
	Transport http.RoundTripper
}

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpapi: status %d from %s", e.Status, e.URL)
}

// Retryable reports whether the failure is transient: 5xx and 429 are,
// everything else in the 4xx range is a caller bug and final.
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || (e.Status >= 500 && e.Status <= 599)
}

// Client wraps an http.Client with auth, backoff, and request spacing.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	minInterval    time.Duration

	// paceMu guards lastRequest; a single client is shared across the
	// extract worker pool.
	paceMu      sync.Mutex
	lastRequest time.Time

	// sleep is injectable to keep tests fast and deterministic.
	sleep func(context.Context, time.Duration) error
}

// NewClient constructs a Client from Config, applying defaults.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.Token,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		minInterval:    cfg.MinInterval,
		sleep:          sleepWithContext,
	}
}

// GetJSON performs a GET against path with the given query parameters and
// decodes the JSON response body. Transient failures retry with exponential
// backoff up to the configured bound; the last error is returned once the
// bound is exceeded.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values) (any, error) {
	reqURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	attempts := c.maxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		body, err := c.once(ctx, reqURL)
		if err == nil {
			var decoded any
			if err := json.Unmarshal(body, &decoded); err != nil {
				return nil, fmt.Errorf("httpapi: decode %s: %w", reqURL, err)
			}
			return decoded, nil
		}
		lastErr = err

		wait, retryable := retryDelay(err, c.initialBackoff, attempt, c.maxBackoff)
		if !retryable || attempt+1 >= attempts {
			return nil, lastErr
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httpapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport-level failure (timeout, refused): transient.
		return nil, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Status: resp.StatusCode, URL: reqURL}
		if len(body) > 0 {
			se.Body = truncate(string(body), 512)
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter := time.Duration(secs) * time.Second
				return nil, &rateLimited{StatusError: se, after: retryAfter}
			}
		}
		return nil, se
	}
	if readErr != nil {
		return nil, fmt.Errorf("httpapi: read body from %s: %w", reqURL, readErr)
	}
	return body, nil
}

// rateLimited wraps a 429 carrying the server-requested wait.
type rateLimited struct {
	*StatusError
	after time.Duration
}

func (e *rateLimited) Unwrap() error { return e.StatusError }

// retryDelay decides whether err warrants a retry and with what delay.
func retryDelay(err error, initial time.Duration, attempt int, max time.Duration) (time.Duration, bool) {
	if rl, ok := err.(*rateLimited); ok {
		if rl.after > 0 {
			return rl.after, true
		}
		return backoffDuration(initial, attempt, max), true
	}
	if se, ok := err.(*StatusError); ok {
		if !se.Retryable() {
			return 0, false
		}
	}
	// StatusError 5xx or transport error.
	return backoffDuration(initial, attempt, max), true
}

// pace enforces the minimum interval between consecutive requests. Each
// caller reserves the next free slot under the lock, so concurrent callers
// queue up MinInterval apart instead of racing past each other.
func (c *Client) pace(ctx context.Context) error {
	if c.minInterval <= 0 {
		return nil
	}
	c.paceMu.Lock()
	now := time.Now()
	slot := c.lastRequest.Add(c.minInterval)
	if slot.Before(now) {
		slot = now
	}
	c.lastRequest = slot
	c.paceMu.Unlock()

	if wait := time.Until(slot); wait > 0 {
		return c.sleep(ctx, wait)
	}
	return ctx.Err()
}

// backoffDuration computes initial * 2^attempt, clamped to max.
func backoffDuration(initial time.Duration, attempt int, max time.Duration) time.Duration {
	d := initial << attempt
	if d > max || d <= 0 {
		return max
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
