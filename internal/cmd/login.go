package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/brokerdesk/portal/internal/auth/session"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DoLogin sends the user to the login page and exchanges the authorization
// code for the initial token set. A non-empty code skips the browser step.
func DoLogin(ctx context.Context, rt *Runtime, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		loginURL := rt.Session.LoginURL(uuid.NewString())
		if loginURL == "" {
			return fmt.Errorf("login-url is not configured")
		}
		rt.printf("Opening the login page...\n")
		if err := rt.navigate(ctx, loginURL); err != nil {
			log.WithError(err).Warn("failed to open login page")
			rt.printf("Open this URL to log in:\n  %s\n", loginURL)
		}

		line, err := rt.prompt("Paste the authorization code (or the full redirect URL): ")
		if err != nil {
			return fmt.Errorf("failed to read authorization code: %w", err)
		}
		code = extractCode(line)
	}

	if err := rt.Session.ExchangeCode(ctx, code, ""); err != nil {
		rt.printf("%s\n", session.UserFriendlyMessage(err))
		return err
	}
	rt.printf("Login successful! Session valid until %s\n", rt.Tokens.ExpiresAt().Local().Format(time.DateTime))
	return nil
}

// DoLogout clears the local session and opens the logout page.
func DoLogout(ctx context.Context, rt *Runtime) error {
	if err := rt.Session.Logout(ctx); err != nil {
		rt.printf("Failed to clear the stored session: %v\n", err)
		return err
	}
	rt.printf("Logged out.\n")
	return nil
}

// DoStatus prints whether a usable session is held.
func DoStatus(rt *Runtime) error {
	snap := rt.Tokens.Snapshot()
	switch {
	case snap.AccessToken == "" && snap.RefreshToken == "":
		rt.printf("Not logged in.\n")
	case rt.Session.IsAuthenticated():
		rt.printf("Logged in. Access token expires at %s", snap.ExpiresAt.Local().Format(time.DateTime))
		if rt.Tokens.ShouldRefreshToken() {
			rt.printf(" (refresh due)")
		}
		rt.printf("\n")
	case snap.RefreshToken != "":
		rt.printf("Access token expired; it will be refreshed on the next request.\n")
	default:
		rt.printf("Session expired. Please log in again.\n")
	}
	return nil
}

func (r *Runtime) navigate(ctx context.Context, target string) error {
	if r.nav == nil {
		return errors.New("no navigator configured")
	}
	return r.nav.Navigate(ctx, target)
}

// extractCode accepts either a bare code or a redirect URL carrying ?code=.
func extractCode(input string) string {
	input = strings.TrimSpace(input)
	if !strings.Contains(input, "://") {
		return input
	}
	u, err := url.Parse(input)
	if err != nil {
		return input
	}
	if c := u.Query().Get("code"); c != "" {
		return c
	}
	return input
}
