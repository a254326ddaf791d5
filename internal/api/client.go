// Package api is the typed HTTP client for the portal backend. Every call
// returns a normalized Response; transport, HTTP and envelope failures are
// folded into it rather than returned as Go errors.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brokerdesk/portal/internal/buildinfo"
	"github.com/brokerdesk/portal/internal/logging"
)

// DefaultTimeout bounds a request when neither the client nor the call sets one.
const DefaultTimeout = 30 * time.Second

// TokenSource supplies the bearer token and the proactive refresh signal.
type TokenSource interface {
	AccessToken() string
	ShouldRefreshToken() bool
}

// Refresher recovers the session. A non-nil error means the session is gone
// and the request must not be issued.
type Refresher interface {
	RefreshSession(ctx context.Context) error
}

// Client talks to the portal backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    atomic.Int64
	tokens     TokenSource
	refresher  Refresher
	requestLog atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.SetTimeout(d) }
}

// WithTokens attaches the token source used by WithAuth requests.
func WithTokens(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithRefresher attaches the session refresher used by WithAuth requests.
func WithRefresher(r Refresher) Option {
	return func(c *Client) { c.refresher = r }
}

// WithRequestLog logs every attempt and its normalized outcome at debug level.
func WithRequestLog(enabled bool) Option {
	return func(c *Client) { c.requestLog.Store(enabled) }
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
	}
	c.timeout.Store(int64(DefaultTimeout))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTimeout changes the default per-request timeout. d <= 0 restores DefaultTimeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	c.timeout.Store(int64(d))
}

// SetRequestLog toggles per-attempt debug logging.
func (c *Client) SetRequestLog(enabled bool) { c.requestLog.Store(enabled) }

// Timeout returns the default per-request timeout.
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// resolveURL keeps absolute URLs and prefixes everything else with the base URL.
// Only a leading scheme and host count; a URL inside the query string does not.
func (c *Client) resolveURL(path string) string {
	if u, err := url.Parse(path); err == nil && u.Scheme != "" && u.Host != "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// doRequest issues one attempt and returns the status code and body.
func (c *Client) doRequest(ctx context.Context, method, path string, ro *requestOptions) (int, []byte, error) {
	timeout := ro.timeout
	if timeout <= 0 {
		timeout = c.Timeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if ro.body != nil {
		body = bytes.NewReader(ro.body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolveURL(path), body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}

	switch {
	case ro.formData:
		if ro.contentType != "" {
			req.Header.Set("Content-Type", ro.contentType)
		}
	default:
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if id := logging.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if ro.useAuth && c.tokens != nil {
		if tok := c.tokens.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	for k, vs := range ro.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, nil, fmt.Errorf("request timed out after %s: %w", timeout, err)
		}
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
