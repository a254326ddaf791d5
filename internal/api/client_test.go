package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTokens struct {
	mu            sync.Mutex
	token         string
	shouldRefresh bool
}

func (f *fakeTokens) AccessToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeTokens) ShouldRefreshToken() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shouldRefresh
}

func (f *fakeTokens) set(token string, shouldRefresh bool) {
	f.mu.Lock()
	f.token = token
	f.shouldRefresh = shouldRefresh
	f.mu.Unlock()
}

type fakeRefresher struct {
	calls atomic.Int32
	fn    func() error
}

func (f *fakeRefresher) RefreshSession(context.Context) error {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn()
	}
	return nil
}

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

const successItem = `{"status":"SUCCESS","statuscode":"200","article":{"id":"1","name":"one"}}`

func TestRetryOnceAfter401ThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	var authHeaders []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		mu.Unlock()
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, successItem)
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "old"}
	refresher := &fakeRefresher{fn: func() error { tokens.set("new", false); return nil }}
	c := NewClient(srv.URL, WithTokens(tokens), WithRefresher(refresher))

	res := Get[item](context.Background(), c, "/items/1", WithAuth())
	if !res.Success || res.Data == nil || res.Data.Name != "one" {
		t.Fatalf("unexpected response: %+v", res)
	}
	if res.StatusCode != 200 || res.Kind != KindNone || res.Error != "" {
		t.Fatalf("unexpected status fields: %+v", res)
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if authHeaders[0] != "Bearer old" || authHeaders[1] != "Bearer new" {
		t.Fatalf("authorization headers = %v", authHeaders)
	}
}

func TestSecond401IsSurfacedWithoutThirdAttempt(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	refresher := &fakeRefresher{}
	c := NewClient(srv.URL, WithTokens(&fakeTokens{token: "t"}), WithRefresher(refresher))

	res := Get[item](context.Background(), c, "/items/1", WithAuth())
	if res.Success || res.StatusCode != http.StatusUnauthorized || res.Kind != KindAuth {
		t.Fatalf("unexpected response: %+v", res)
	}
	if res.Data != nil {
		t.Fatal("failed response must not carry data")
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestRefreshFailureStopsRequest(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	expired := errors.New("session expired")
	refresher := &fakeRefresher{fn: func() error { return expired }}
	c := NewClient(srv.URL, WithTokens(&fakeTokens{token: "t"}), WithRefresher(refresher))

	res := Get[item](context.Background(), c, "/items/1", WithAuth())
	if res.Kind != KindAuth || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected response: %+v", res)
	}
	if !errors.Is(res.Err, expired) {
		t.Fatalf("Err = %v, want wrapped refresh error", res.Err)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestProactiveRefreshRunsBeforeRequest(t *testing.T) {
	tokens := &fakeTokens{token: "stale", shouldRefresh: true}
	refresher := &fakeRefresher{fn: func() error { tokens.set("fresh", false); return nil }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refresher.calls.Load() != 1 {
			t.Errorf("request issued before refresh completed")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = io.WriteString(w, successItem)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTokens(tokens), WithRefresher(refresher))
	res := Get[item](context.Background(), c, "/items/1", WithAuth())
	if !res.Success {
		t.Fatalf("unexpected response: %+v", res)
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestProactiveRefreshFailureSkipsRequest(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
	}))
	defer srv.Close()

	refresher := &fakeRefresher{fn: func() error { return errors.New("no refresh token") }}
	c := NewClient(srv.URL, WithTokens(&fakeTokens{shouldRefresh: true}), WithRefresher(refresher))

	res := Get[item](context.Background(), c, "/items/1", WithAuth())
	if res.Kind != KindAuth {
		t.Fatalf("unexpected response: %+v", res)
	}
	if attempts.Load() != 0 {
		t.Fatal("request must not be issued after a failed refresh")
	}
}

func TestUnauthenticated401IsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected Authorization header")
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	refresher := &fakeRefresher{}
	c := NewClient(srv.URL, WithTokens(&fakeTokens{token: "t", shouldRefresh: true}), WithRefresher(refresher))
	res := Get[item](context.Background(), c, "/public")
	if res.Kind != KindHTTP || res.StatusCode != 401 || res.Error != "HTTP Error: 401" {
		t.Fatalf("unexpected response: %+v", res)
	}
	if refresher.calls.Load() != 0 {
		t.Fatal("unauthenticated requests must not refresh")
	}
}

func TestEnvelopeNormalization(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		wantOK     bool
		wantKind   ErrorKind
		wantCode   int
		wantError  string
		wantItemID string
	}{
		{name: "article", status: 200, body: successItem, wantOK: true, wantCode: 200, wantItemID: "1"},
		{name: "data", status: 200, body: `{"status":"SUCCESS","statuscode":"200","data":{"id":"2"}}`, wantOK: true, wantCode: 200, wantItemID: "2"},
		{name: "article preferred over data", status: 200, body: `{"status":"SUCCESS","statuscode":"200","article":{"id":"a"},"data":{"id":"d"}}`, wantOK: true, wantCode: 200, wantItemID: "a"},
		{name: "null article falls back to data", status: 200, body: `{"status":"SUCCESS","statuscode":"200","article":null,"data":{"id":"d"}}`, wantOK: true, wantCode: 200, wantItemID: "d"},
		{name: "raw envelope", status: 200, body: `{"status":"SUCCESS","statuscode":"200","id":"raw"}`, wantOK: true, wantCode: 200, wantItemID: "raw"},
		{name: "envelope error on http 200", status: 200, body: `{"status":"ERROR","statuscode":"422","message":"Email already in use"}`, wantKind: KindApplication, wantCode: 422, wantError: "Email already in use"},
		{name: "success status with non-200 code", status: 200, body: `{"status":"SUCCESS","statuscode":"409"}`, wantKind: KindApplication, wantCode: 409, wantError: "Application Error: 409"},
		{name: "missing status", status: 200, body: `{"id":"x"}`, wantKind: KindApplication, wantCode: 200, wantError: "Application Error: 200"},
		{name: "http error with message", status: 503, body: `{"message":"maintenance"}`, wantKind: KindHTTP, wantCode: 503, wantError: "maintenance"},
		{name: "http error without body", status: 404, body: ``, wantKind: KindHTTP, wantCode: 404, wantError: "HTTP Error: 404"},
		{name: "invalid json", status: 200, body: `<html>`, wantKind: KindNetwork, wantCode: 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			res := Get[item](context.Background(), NewClient(srv.URL), "/x")
			if res.Success != tc.wantOK {
				t.Fatalf("Success = %v, want %v (%+v)", res.Success, tc.wantOK, res)
			}
			if res.Success != (res.Data != nil && res.Error == "") {
				t.Fatalf("success invariant violated: %+v", res)
			}
			if res.StatusCode != tc.wantCode {
				t.Fatalf("StatusCode = %d, want %d", res.StatusCode, tc.wantCode)
			}
			if !tc.wantOK {
				if res.Kind != tc.wantKind {
					t.Fatalf("Kind = %v, want %v", res.Kind, tc.wantKind)
				}
				if tc.wantError != "" && res.Error != tc.wantError {
					t.Fatalf("Error = %q, want %q", res.Error, tc.wantError)
				}
				return
			}
			if res.Data.ID != tc.wantItemID {
				t.Fatalf("ID = %q, want %q", res.Data.ID, tc.wantItemID)
			}
		})
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := Get[item](context.Background(), NewClient(url), "/x")
	if res.Success || res.Kind != KindNetwork || res.StatusCode != 500 || res.Error == "" {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestRequestTimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	res := Get[item](context.Background(), NewClient(srv.URL), "/slow", WithRequestTimeout(50*time.Millisecond))
	if res.Kind != KindNetwork || res.StatusCode != 500 {
		t.Fatalf("unexpected response: %+v", res)
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Fatalf("Error = %q, want timeout message", res.Error)
	}
}

func TestPostBodyIsReplayedOnRetry(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		n := len(bodies)
		mu.Unlock()
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, successItem)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTokens(&fakeTokens{token: "t"}), WithRefresher(&fakeRefresher{}))
	res := Post[item](context.Background(), c, "/items", map[string]string{"name": "one"}, WithAuth())
	if !res.Success {
		t.Fatalf("unexpected response: %+v", res)
	}
	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[0] != `{"name":"one"}` {
		t.Fatalf("bodies = %q", bodies)
	}
}

func TestPostFormDataUsesCallerContentType(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("doc", "kyc")
	_ = mw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		if got := r.FormValue("doc"); got != "kyc" {
			t.Errorf("doc = %q", got)
		}
		_, _ = io.WriteString(w, successItem)
	}))
	defer srv.Close()

	res := PostFormData[item](context.Background(), NewClient(srv.URL), "/upload", &buf, mw.FormDataContentType())
	if !res.Success {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestAbsoluteURLBypassesBaseAndRequestIDIsSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/abs" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if len(r.Header.Get("X-Request-ID")) != 8 {
			t.Errorf("X-Request-ID = %q", r.Header.Get("X-Request-ID"))
		}
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "portal-cli/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("X-Trace") != "1" {
			t.Errorf("X-Trace header missing")
		}
		_, _ = io.WriteString(w, successItem)
	}))
	defer srv.Close()

	c := NewClient("http://127.0.0.1:1/unused")
	res := Get[item](context.Background(), c, srv.URL+"/abs", WithHeader("X-Trace", "1"))
	if !res.Success {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestSetTimeoutFallsBackToDefault(t *testing.T) {
	c := NewClient("http://example.test", WithTimeout(5*time.Second))
	if c.Timeout() != 5*time.Second {
		t.Fatalf("Timeout() = %v", c.Timeout())
	}
	c.SetTimeout(0)
	if c.Timeout() != DefaultTimeout {
		t.Fatalf("Timeout() = %v, want %v", c.Timeout(), DefaultTimeout)
	}
}

func TestResponseAsError(t *testing.T) {
	if err := (Response[item]{Success: true, Data: &item{ID: "1"}, StatusCode: 200}).AsError(); err != nil {
		t.Fatalf("AsError() on success = %v", err)
	}

	cause := errors.New("dial tcp: refused")
	err := Response[item]{StatusCode: 500, Kind: KindNetwork, Error: "connection refused", Err: cause}.AsError()
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("AsError() = %T, want *Error", err)
	}
	if apiErr.Kind != KindNetwork || apiErr.StatusCode != 500 || err.Error() != "connection refused" {
		t.Fatalf("AsError() = %+v", apiErr)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause must be unwrapped")
	}

	if got := (Response[item]{StatusCode: 404, Kind: KindHTTP}).AsError().Error(); got != "HTTP Error: 404" {
		t.Fatalf("empty message fallback = %q", got)
	}
}

func TestRelativePathWithURLInQueryUsesBase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cms/redirect" || r.URL.Query().Get("next") != "https://portal.example/home" {
			t.Errorf("request = %s", r.URL.String())
		}
		_, _ = io.WriteString(w, successItem)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	res := Get[item](context.Background(), c, "/cms/redirect?next=https://portal.example/home")
	if !res.Success {
		t.Fatalf("Get() = %+v", res)
	}

	cases := map[string]string{
		"/cms/redirect?next=https://portal.example/home": srv.URL + "/cms/redirect?next=https://portal.example/home",
		"profile/api/v1/details":                         srv.URL + "/profile/api/v1/details",
		"https://cdn.example.com/a.json":                 "https://cdn.example.com/a.json",
	}
	for in, want := range cases {
		if got := c.resolveURL(in); got != want {
			t.Errorf("resolveURL(%q) = %q, want %q", in, got, want)
		}
	}
}
