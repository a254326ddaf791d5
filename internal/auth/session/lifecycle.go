// Package session owns the refresh-token exchange, the initial code exchange
// and the terminal "session is unrecoverable" path.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/brokerdesk/portal/internal/api"
	"github.com/brokerdesk/portal/internal/auth/token"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Config names the identity endpoints and navigation targets.
type Config struct {
	ClientID     string
	LoginURL     string
	LogoutURL    string
	RedirectURI  string
	RefreshPath  string
	ExchangePath string
}

// Navigator sends the user to a URL (a browser page for the CLI).
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// RefreshStatus tags the outcome of Refresh.
type RefreshStatus int

const (
	RefreshOK RefreshStatus = iota
	// RefreshSessionExpired means there was no refresh token; nothing was sent.
	RefreshSessionExpired
	// RefreshFailed means the exchange was attempted and failed.
	RefreshFailed
)

func (s RefreshStatus) String() string {
	switch s {
	case RefreshOK:
		return "ok"
	case RefreshSessionExpired:
		return "session_expired"
	case RefreshFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RefreshResult is the tagged outcome of Refresh. Tokens is set only for RefreshOK.
type RefreshResult struct {
	Status RefreshStatus
	Tokens token.Set
	Err    error
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithNavigator sets where login and logout URLs are sent.
func WithNavigator(n Navigator) Option {
	return func(l *Lifecycle) { l.nav = n }
}

// WithFlash sets the store for the post-redirect message.
func WithFlash(f *Flash) Option {
	return func(l *Lifecycle) { l.flash = f }
}

// Lifecycle drives token acquisition and recovery.
type Lifecycle struct {
	cfg    Config
	client *api.Client
	tokens *token.Store
	nav    Navigator
	flash  *Flash
	group  singleflight.Group
}

// New builds a Lifecycle. client must not carry a token source or refresher
// so identity calls never re-enter the auth retry path.
func New(cfg Config, client *api.Client, tokens *token.Store, opts ...Option) *Lifecycle {
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = "/sso/token/refresh"
	}
	if cfg.ExchangePath == "" {
		cfg.ExchangePath = "/sso/token"
	}
	l := &Lifecycle{cfg: cfg, client: client, tokens: tokens}
	for _, opt := range opts {
		opt(l)
	}
	if l.flash == nil {
		l.flash = NewFlash(nil)
	}
	return l
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId"`
}

type exchangeRequest struct {
	Code        string `json:"code"`
	ClientID    string `json:"clientId"`
	RedirectURI string `json:"redirectUri"`
}

type tokenResponse struct {
	IDToken      string `json:"idToken"`
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
	RefreshToken string `json:"refreshToken"`
}

func (r *tokenResponse) complete() bool {
	return r != nil && r.AccessToken != "" && r.RefreshToken != ""
}

// Refresh exchanges the stored refresh token for a new set. Concurrent
// callers share a single in-flight exchange, which runs detached from any one
// caller's cancellation; a caller whose ctx ends gets RefreshFailed with
// ctx.Err() while the exchange completes for the others. Refresh never navigates.
func (l *Lifecycle) Refresh(ctx context.Context) RefreshResult {
	ch := l.group.DoChan("refresh", func() (any, error) {
		return l.refresh(context.WithoutCancel(ctx)), nil
	})
	select {
	case <-ctx.Done():
		return RefreshResult{Status: RefreshFailed, Err: ctx.Err()}
	case r := <-ch:
		return r.Val.(RefreshResult)
	}
}

func (l *Lifecycle) refresh(ctx context.Context) RefreshResult {
	refreshToken := l.tokens.RefreshToken()
	if refreshToken == "" {
		return RefreshResult{Status: RefreshSessionExpired, Err: ErrNoRefreshToken}
	}

	res := api.Post[tokenResponse](ctx, l.client, l.cfg.RefreshPath, refreshRequest{
		RefreshToken: refreshToken,
		ClientID:     l.cfg.ClientID,
	})
	if !res.Success {
		log.WithField("status", res.StatusCode).Warnf("session: token refresh failed: %s", res.Error)
		return RefreshResult{
			Status: RefreshFailed,
			Err:    NewAuthenticationError(ErrRefreshFailed, res.Error, res.StatusCode, res.Err),
		}
	}
	if !res.Data.complete() {
		log.Warn("session: refresh response missing tokens")
		return RefreshResult{
			Status: RefreshFailed,
			Err: &AuthenticationError{
				Type:    "invalid_token_response",
				Message: "Refresh response is missing tokens",
				Code:    res.StatusCode,
				Cause:   ErrInvalidTokenResponse,
			},
		}
	}

	tr := res.Data
	if err := l.tokens.SetTokens(ctx, tr.AccessToken, tr.RefreshToken, tr.ExpiresIn, tr.IDToken); err != nil {
		log.WithError(err).Warn("session: refreshed tokens kept in memory only")
	}
	log.Debug("session: access token refreshed")
	return RefreshResult{Status: RefreshOK, Tokens: l.tokens.Snapshot()}
}

// EndSession handles a non-OK refresh: a failed exchange clears tokens, then
// the session-expired message is recorded and the user is sent to login.
// A caller-side cancellation is not a session failure and is ignored.
func (l *Lifecycle) EndSession(ctx context.Context, result RefreshResult) {
	if result.Status == RefreshOK || errors.Is(result.Err, context.Canceled) {
		return
	}
	if result.Status == RefreshFailed {
		if err := l.tokens.ClearTokens(ctx); err != nil {
			log.WithError(err).Warn("session: failed to clear tokens")
		}
	}
	if err := l.flash.Set(ctx, SessionExpiredMessage); err != nil {
		log.WithError(err).Warn("session: failed to record session-expired message")
	}
	l.navigate(ctx, l.LoginURL(""))
}

// RefreshSession refreshes and, when that fails, ends the session. The
// returned error wraps ErrSessionExpired. It satisfies api.Refresher.
func (l *Lifecycle) RefreshSession(ctx context.Context) error {
	ch := l.group.DoChan("session", func() (any, error) {
		shared := context.WithoutCancel(ctx)
		result := l.Refresh(shared)
		if result.Status != RefreshOK {
			l.EndSession(shared, result)
		}
		return result, nil
	})
	var result RefreshResult
	select {
	case <-ctx.Done():
		return fmt.Errorf("session: refresh abandoned: %w", ctx.Err())
	case r := <-ch:
		result = r.Val.(RefreshResult)
	}
	if result.Status == RefreshOK {
		return nil
	}
	if result.Err == nil {
		return ErrSessionExpired
	}
	return fmt.Errorf("%w: %w", ErrSessionExpired, result.Err)
}

// ExchangeCode trades an authorization code for the initial token set.
// On failure nothing is stored. A persistence failure after a successful
// exchange is logged; the tokens stay usable in memory.
func (l *Lifecycle) ExchangeCode(ctx context.Context, code, redirectURI string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return NewAuthenticationError(ErrCodeExchangeFailed, "Authorization code is empty", 0, nil)
	}
	if redirectURI == "" {
		redirectURI = l.cfg.RedirectURI
	}
	res := api.Post[tokenResponse](ctx, l.client, l.cfg.ExchangePath, exchangeRequest{
		Code:        code,
		ClientID:    l.cfg.ClientID,
		RedirectURI: redirectURI,
	})
	if !res.Success {
		return NewAuthenticationError(ErrCodeExchangeFailed, res.Error, res.StatusCode, res.Err)
	}
	if !res.Data.complete() {
		return &AuthenticationError{
			Type:    "invalid_token_response",
			Message: "Token response is missing tokens",
			Code:    res.StatusCode,
			Cause:   ErrInvalidTokenResponse,
		}
	}
	tr := res.Data
	if err := l.tokens.SetTokens(ctx, tr.AccessToken, tr.RefreshToken, tr.ExpiresIn, tr.IDToken); err != nil {
		log.WithError(err).Warn("session: login tokens kept in memory only")
	}
	return nil
}

// IsAuthenticated reports whether an unexpired access token is held.
func (l *Lifecycle) IsAuthenticated() bool {
	return l.tokens.AccessToken() != "" && !l.tokens.IsTokenExpired()
}

// Logout clears local tokens and then sends the user to the logout URL.
// Navigation failures are logged and never block clearing.
func (l *Lifecycle) Logout(ctx context.Context) error {
	err := l.tokens.ClearTokens(ctx)
	l.navigate(ctx, l.cfg.LogoutURL)
	return err
}

// LoginURL returns the login page URL with client_id, redirect_uri and an optional state.
func (l *Lifecycle) LoginURL(state string) string {
	raw := strings.TrimSpace(l.cfg.LoginURL)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if l.cfg.ClientID != "" {
		q.Set("client_id", l.cfg.ClientID)
	}
	if l.cfg.RedirectURI != "" {
		q.Set("redirect_uri", l.cfg.RedirectURI)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (l *Lifecycle) navigate(ctx context.Context, target string) {
	if l.nav == nil || target == "" {
		return
	}
	if err := l.nav.Navigate(ctx, target); err != nil {
		log.WithError(err).Warnf("session: failed to open %s", target)
	}
}
