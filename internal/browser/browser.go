// Package browser opens login and logout pages in the user's default browser.
// When no browser can be started the URL is copied to the clipboard and printed.
package browser

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// Navigator sends the user to a URL.
type Navigator struct {
	noBrowser bool
	out       io.Writer
	open      func(url string) error
	copy      func(text string) error
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithNoBrowser skips the browser and only prints and copies URLs.
func WithNoBrowser(noBrowser bool) Option {
	return func(n *Navigator) { n.noBrowser = noBrowser }
}

// WithOutput sets where fallback instructions are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(n *Navigator) {
		if w != nil {
			n.out = w
		}
	}
}

// WithOpener replaces the browser launcher.
func WithOpener(fn func(url string) error) Option {
	return func(n *Navigator) {
		if fn != nil {
			n.open = fn
		}
	}
}

// WithClipboard replaces the clipboard writer.
func WithClipboard(fn func(text string) error) Option {
	return func(n *Navigator) {
		if fn != nil {
			n.copy = fn
		}
	}
}

// NewNavigator returns a Navigator using open-golang and the system clipboard.
func NewNavigator(opts ...Option) *Navigator {
	n := &Navigator{
		out:  os.Stdout,
		open: OpenURL,
		copy: clipboard.WriteAll,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Navigate opens url, falling back to clipboard and stdout. It only fails
// when neither the browser nor the clipboard could be used.
func (n *Navigator) Navigate(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("browser: empty url")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.noBrowser {
		errOpen := n.open(url)
		if errOpen == nil {
			return nil
		}
		log.Debugf("browser: open failed: %v", errOpen)
	}

	_, _ = fmt.Fprintf(n.out, "Open this URL in your browser:\n  %s\n", url)
	if errCopy := n.copy(url); errCopy != nil {
		log.Debugf("browser: clipboard unavailable: %v", errCopy)
		if n.noBrowser {
			return nil
		}
		return fmt.Errorf("browser: could not open or copy url: %w", errCopy)
	}
	_, _ = fmt.Fprintln(n.out, "(copied to clipboard)")
	return nil
}

// OpenURL opens the specified URL in the default web browser.
// It first attempts open-golang and falls back to platform-specific commands.
func OpenURL(url string) error {
	err := open.Run(url)
	if err == nil {
		log.Debug("Successfully opened URL using open-golang library")
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
	return openURLPlatformSpecific(url)
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		browsers := []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}
		for _, browser := range browsers {
			if _, err := exec.LookPath(browser); err == nil {
				cmd = exec.Command(browser, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser found on Linux system")
		}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	return nil
}
