package browser

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNavigateOpensBrowser(t *testing.T) {
	var opened, copied string
	var out bytes.Buffer
	n := NewNavigator(
		WithOutput(&out),
		WithOpener(func(u string) error { opened = u; return nil }),
		WithClipboard(func(s string) error { copied = s; return nil }),
	)
	if err := n.Navigate(context.Background(), "https://login.example.com"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if opened != "https://login.example.com" || copied != "" || out.Len() != 0 {
		t.Fatalf("opened=%q copied=%q out=%q", opened, copied, out.String())
	}
}

func TestNavigateFallsBackToClipboard(t *testing.T) {
	var copied string
	var out bytes.Buffer
	n := NewNavigator(
		WithOutput(&out),
		WithOpener(func(string) error { return errors.New("no display") }),
		WithClipboard(func(s string) error { copied = s; return nil }),
	)
	if err := n.Navigate(context.Background(), "https://login.example.com"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if copied != "https://login.example.com" {
		t.Fatalf("copied = %q", copied)
	}
	if !strings.Contains(out.String(), "https://login.example.com") {
		t.Fatalf("url not printed: %q", out.String())
	}
}

func TestNavigateNoBrowserNeverOpens(t *testing.T) {
	var out bytes.Buffer
	n := NewNavigator(
		WithNoBrowser(true),
		WithOutput(&out),
		WithOpener(func(string) error { t.Fatal("browser must not be opened"); return nil }),
		WithClipboard(func(string) error { return errors.New("headless") }),
	)
	if err := n.Navigate(context.Background(), "https://login.example.com/logout"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if !strings.Contains(out.String(), "logout") {
		t.Fatalf("url not printed: %q", out.String())
	}
}

func TestNavigateFailsWhenNothingWorks(t *testing.T) {
	n := NewNavigator(
		WithOutput(&bytes.Buffer{}),
		WithOpener(func(string) error { return errors.New("no display") }),
		WithClipboard(func(string) error { return errors.New("headless") }),
	)
	if err := n.Navigate(context.Background(), "https://login.example.com"); err == nil {
		t.Fatal("expected error")
	}
	if err := n.Navigate(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty url")
	}
}
