package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brokerdesk/portal/internal/logging"
	log "github.com/sirupsen/logrus"
)

type requestOptions struct {
	useAuth     bool
	timeout     time.Duration
	headers     http.Header
	body        []byte
	formData    bool
	contentType string
	err         error
}

// RequestOption configures a single call.
type RequestOption func(*requestOptions)

// WithAuth attaches the bearer token and enables proactive refresh and the single 401 retry.
func WithAuth() RequestOption {
	return func(o *requestOptions) { o.useAuth = true }
}

// WithRequestTimeout overrides the client's default timeout for this call.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// WithHeader adds a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = http.Header{}
		}
		o.headers.Add(key, value)
	}
}

// WithJSONBody serializes v as the request body.
func WithJSONBody(v any) RequestOption {
	return func(o *requestOptions) {
		if v == nil {
			return
		}
		data, err := json.Marshal(v)
		if err != nil {
			o.err = fmt.Errorf("encode request body: %w", err)
			return
		}
		o.body = data
	}
}

// Do issues method against path and normalizes the result into Response[T].
func Do[T any](ctx context.Context, c *Client, method, path string, opts ...RequestOption) Response[T] {
	ro := &requestOptions{}
	for _, opt := range opts {
		opt(ro)
	}
	if ro.err != nil {
		return networkFailure[T](ro.err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, _ = logging.EnsureRequestID(ctx)
	return request[T](ctx, c, method, path, ro, false)
}

// Get issues a GET request.
func Get[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) Response[T] {
	return Do[T](ctx, c, http.MethodGet, path, opts...)
}

// Post issues a POST request with body serialized as JSON.
func Post[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) Response[T] {
	return Do[T](ctx, c, http.MethodPost, path, append([]RequestOption{WithJSONBody(body)}, opts...)...)
}

// Put issues a PUT request with body serialized as JSON.
func Put[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) Response[T] {
	return Do[T](ctx, c, http.MethodPut, path, append([]RequestOption{WithJSONBody(body)}, opts...)...)
}

// Delete issues a DELETE request.
func Delete[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) Response[T] {
	return Do[T](ctx, c, http.MethodDelete, path, opts...)
}

// PostFormData posts body unserialized. contentType carries the multipart
// boundary; when empty no Content-Type header is sent.
func PostFormData[T any](ctx context.Context, c *Client, path string, body io.Reader, contentType string, opts ...RequestOption) Response[T] {
	var data []byte
	if body != nil {
		var err error
		if data, err = io.ReadAll(body); err != nil {
			return networkFailure[T](fmt.Errorf("read form body: %w", err))
		}
	}
	form := func(o *requestOptions) {
		o.body = data
		o.formData = true
		o.contentType = contentType
	}
	return Do[T](ctx, c, http.MethodPost, path, append([]RequestOption{form}, opts...)...)
}

func request[T any](ctx context.Context, c *Client, method, path string, ro *requestOptions, isRetry bool) Response[T] {
	if ro.useAuth && !isRetry && c.refresher != nil && c.tokens != nil && c.tokens.ShouldRefreshToken() {
		if err := c.refresher.RefreshSession(ctx); err != nil {
			return authFailure[T](err)
		}
	}

	status, body, err := c.doRequest(ctx, method, path, ro)
	var res Response[T]
	switch {
	case err != nil:
		res = networkFailure[T](err)
	case status == http.StatusUnauthorized && ro.useAuth && !isRetry && c.refresher != nil:
		c.logAttempt(ctx, method, path, status, KindAuth, isRetry)
		if errRefresh := c.refresher.RefreshSession(ctx); errRefresh != nil {
			return authFailure[T](errRefresh)
		}
		return request[T](ctx, c, method, path, ro, true)
	case status == http.StatusUnauthorized && ro.useAuth:
		res = fail[T](KindAuth, status, backendMessage(body), nil)
	case status < 200 || status > 299:
		res = fail[T](KindHTTP, status, backendMessage(body), nil)
	default:
		res = decodeEnvelope[T](body, status)
	}
	c.logAttempt(ctx, method, path, res.StatusCode, res.Kind, isRetry)
	return res
}

func authFailure[T any](cause error) Response[T] {
	msg := "session expired"
	if cause != nil {
		msg = cause.Error()
	}
	return fail[T](KindAuth, http.StatusUnauthorized, msg, cause)
}

func (c *Client) logAttempt(ctx context.Context, method, path string, status int, kind ErrorKind, isRetry bool) {
	if !c.requestLog.Load() {
		return
	}
	attempt := 1
	if isRetry {
		attempt = 2
	}
	logging.Entry(ctx).WithFields(log.Fields{
		"method":  method,
		"path":    path,
		"status":  status,
		"kind":    kind,
		"attempt": attempt,
	}).Debug("backend request")
}
