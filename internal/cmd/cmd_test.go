package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/brokerdesk/portal/internal/auth/session"
	"github.com/brokerdesk/portal/internal/config"
	"github.com/brokerdesk/portal/internal/otp"
	"github.com/brokerdesk/portal/internal/store"
	"github.com/brokerdesk/portal/internal/tui"
)

type recordingNavigator struct {
	mu   sync.Mutex
	urls []string
}

func (n *recordingNavigator) Navigate(_ context.Context, u string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, u)
	return nil
}

func (n *recordingNavigator) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

func tokenBody(access, refresh string) string {
	return `{"status":"SUCCESS","statuscode":"200","article":{"idToken":"id","accessToken":"` + access +
		`","expiresIn":3600,"tokenType":"Bearer","refreshToken":"` + refresh + `"}}`
}

type harness struct {
	cfg *config.Config
	kv  store.KV
	nav *recordingNavigator
	out *bytes.Buffer
}

func newHarness(t *testing.T, handler http.HandlerFunc) *harness {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	kv, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	cfg := config.Default()
	cfg.APIBaseURL = srv.URL
	cfg.ClientID = "portal-web"
	cfg.LoginURL = "https://login.example.com/authorize"
	cfg.LogoutURL = "https://login.example.com/logout"
	cfg.RedirectURI = "https://portal.example.com/callback"
	return &harness{cfg: cfg, kv: kv, nav: &recordingNavigator{}, out: &bytes.Buffer{}}
}

func (h *harness) runtime(t *testing.T, prompt func(string) (string, error)) *Runtime {
	t.Helper()
	rt, err := NewRuntime(context.Background(), h.cfg, &LoginOptions{
		Prompt:    prompt,
		Output:    h.out,
		Navigator: h.nav,
		KV:        h.kv,
	})
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	return rt
}

func TestLoginWithPastedRedirectURL(t *testing.T) {
	var gotBody map[string]string
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sso/token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, tokenBody("a1", "r1"))
	})
	rt := h.runtime(t, func(string) (string, error) {
		return "https://portal.example.com/callback?code=abc123&state=s", nil
	})

	if err := DoLogin(context.Background(), rt, ""); err != nil {
		t.Fatalf("DoLogin() error = %v", err)
	}
	if gotBody["code"] != "abc123" || gotBody["clientId"] != "portal-web" || gotBody["redirectUri"] != "https://portal.example.com/callback" {
		t.Fatalf("exchange body = %v", gotBody)
	}
	visited := h.nav.visited()
	if len(visited) != 1 || !strings.Contains(visited[0], "client_id=portal-web") || !strings.Contains(visited[0], "state=") {
		t.Fatalf("visited = %v", visited)
	}
	if !strings.Contains(h.out.String(), "Login successful!") {
		t.Fatalf("output = %q", h.out.String())
	}

	reopened := h.runtime(t, nil)
	if !reopened.Session.IsAuthenticated() || reopened.Tokens.AccessToken() != "a1" {
		t.Fatal("tokens were not persisted")
	}
}

func TestLoginFailureStoresNothing(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"FAILURE","statuscode":"400","message":"code expired"}`)
	})
	rt := h.runtime(t, nil)
	if err := DoLogin(context.Background(), rt, "stale"); err == nil {
		t.Fatal("expected error")
	}
	if rt.Tokens.AccessToken() != "" {
		t.Fatal("failed exchange must not store tokens")
	}
	if len(h.nav.visited()) != 0 {
		t.Fatal("code flag must skip the browser")
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	rt := h.runtime(t, nil)
	_ = DoStatus(rt)
	if !strings.Contains(h.out.String(), "Not logged in.") {
		t.Fatalf("output = %q", h.out.String())
	}

	h.out.Reset()
	if err := rt.Tokens.SetTokens(context.Background(), "a", "r", 3600, ""); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	_ = DoStatus(rt)
	if !strings.HasPrefix(h.out.String(), "Logged in.") {
		t.Fatalf("output = %q", h.out.String())
	}
}

func TestLogoutClearsAndNavigates(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	rt := h.runtime(t, nil)
	_ = rt.Tokens.SetTokens(context.Background(), "a", "r", 3600, "")

	if err := DoLogout(context.Background(), rt); err != nil {
		t.Fatalf("DoLogout() error = %v", err)
	}
	if rt.Tokens.RefreshToken() != "" {
		t.Fatal("tokens not cleared")
	}
	if v := h.nav.visited(); len(v) != 1 || v[0] != "https://login.example.com/logout" {
		t.Fatalf("visited = %v", v)
	}
	if _, err := h.kv.Load(context.Background(), "portal/auth-tokens"); err == nil {
		t.Fatal("persisted tokens must be removed")
	}
}

func TestAccountsRecoverFromExpiredAccessToken(t *testing.T) {
	var refreshes atomic.Int32
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sso/token/refresh":
			refreshes.Add(1)
			_, _ = io.WriteString(w, tokenBody("a2", "r2"))
		case "/account/api/v1/trading-accounts":
			if r.Header.Get("Authorization") != "Bearer a2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"status":"SUCCESS","statuscode":"200","article":[{"accountId":"E1","accountName":"Equity","isPrimary":true}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	rt := h.runtime(t, nil)
	_ = rt.Tokens.SetTokens(context.Background(), "a1", "r1", 3600, "")

	if err := DoAccounts(context.Background(), rt); err != nil {
		t.Fatalf("DoAccounts() error = %v", err)
	}
	if refreshes.Load() != 1 {
		t.Fatalf("refreshes = %d, want 1", refreshes.Load())
	}
	if !strings.Contains(h.out.String(), "* E1") {
		t.Fatalf("output = %q", h.out.String())
	}
}

func TestSessionExpiryShowsFlashOnNextStart(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	rt := h.runtime(t, nil)
	_ = rt.Tokens.SetTokens(context.Background(), "a1", "r1", 3600, "")

	if err := DoNotifications(context.Background(), rt, false); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(h.out.String(), session.SessionExpiredMessage) {
		t.Fatalf("output = %q", h.out.String())
	}
	if rt.Tokens.RefreshToken() != "" {
		t.Fatal("failed refresh must clear tokens")
	}
	if v := h.nav.visited(); len(v) != 1 || !strings.HasPrefix(v[0], "https://login.example.com/authorize") {
		t.Fatalf("visited = %v", v)
	}

	h.out.Reset()
	next := h.runtime(t, nil)
	next.PrintPendingFlash(context.Background())
	if strings.TrimSpace(h.out.String()) != session.SessionExpiredMessage {
		t.Fatalf("flash output = %q", h.out.String())
	}
	h.out.Reset()
	next.PrintPendingFlash(context.Background())
	if h.out.Len() != 0 {
		t.Fatal("flash must be shown once")
	}
}

func TestNotificationsMarkRead(t *testing.T) {
	var readAll atomic.Int32
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/notification/api/v1/unread-count":
			_, _ = io.WriteString(w, `{"status":"SUCCESS","statuscode":"200","article":{"count":4}}`)
		case "/notification/api/v1/read-all":
			readAll.Add(1)
			_, _ = io.WriteString(w, `{"status":"SUCCESS","statuscode":"200"}`)
		}
	})
	rt := h.runtime(t, nil)
	_ = rt.Tokens.SetTokens(context.Background(), "a1", "r1", 3600, "")

	if err := DoNotifications(context.Background(), rt, true); err != nil {
		t.Fatalf("DoNotifications() error = %v", err)
	}
	if readAll.Load() != 1 || !strings.Contains(h.out.String(), "Unread notifications: 4") {
		t.Fatalf("read-all = %d, output = %q", readAll.Load(), h.out.String())
	}
}

func TestUpdateContactPassesCurrentValue(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"SUCCESS","statuscode":"200","article":{"name":"Asha","email":"asha@example.com","mobile":"9876543210"}}`)
	})
	rt := h.runtime(t, nil)
	_ = rt.Tokens.SetTokens(context.Background(), "a1", "r1", 3600, "")

	var got tui.Options
	err := DoUpdateContact(context.Background(), rt, UpdateOptions{
		Channel: otp.Mobile,
		Run: func(_ context.Context, opts tui.Options) (otp.Session, error) {
			got = opts
			return otp.Session{Step: otp.StepConfirmed, TargetValue: "9123456780"}, nil
		},
	})
	if err != nil {
		t.Fatalf("DoUpdateContact() error = %v", err)
	}
	if got.Channel != otp.Mobile || got.Current != "9876543210" || got.Backend == nil {
		t.Fatalf("tui options = %+v", got)
	}
	if !strings.Contains(h.out.String(), "Mobile Number updated to 9123456780.") {
		t.Fatalf("output = %q", h.out.String())
	}
}

func TestExtractCode(t *testing.T) {
	cases := map[string]string{
		"  abc  ": "abc",
		"https://portal.example.com/callback?code=xyz&state=1": "xyz",
		"https://portal.example.com/callback?error=denied":     "https://portal.example.com/callback?error=denied",
	}
	for in, want := range cases {
		if got := extractCode(in); got != want {
			t.Errorf("extractCode(%q) = %q, want %q", in, got, want)
		}
	}
}
