package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/brokerdesk/portal/internal/api"
	"github.com/brokerdesk/portal/internal/auth/session"
	"github.com/brokerdesk/portal/internal/otp"
	"github.com/brokerdesk/portal/internal/portal"
	"github.com/brokerdesk/portal/internal/tui"
	log "github.com/sirupsen/logrus"
)

// DoAccounts lists the trading accounts, marking the selected one.
func DoAccounts(ctx context.Context, rt *Runtime) error {
	book := portal.NewAccountBook(rt.Client)
	if err := book.Refresh(ctx); err != nil {
		rt.reportFailure("Failed to load trading accounts", err)
		return err
	}
	accounts := book.Accounts()
	if len(accounts) == 0 {
		rt.printf("No trading accounts.\n")
		return nil
	}
	selected, _ := book.Selected()
	for _, a := range accounts {
		marker := " "
		if a.ID == selected.ID {
			marker = "*"
		}
		rt.printf("%s %-12s %-24s %-8s %s\n", marker, a.ID, a.Name, a.Segment, a.Status)
	}
	return nil
}

// DoNotifications prints the unread count and optionally marks everything read.
func DoNotifications(ctx context.Context, rt *Runtime, markRead bool) error {
	counter := portal.NewNotificationCounter(rt.Client)
	if err := counter.Refresh(ctx); err != nil {
		rt.reportFailure("Failed to load notifications", err)
		return err
	}
	rt.printf("Unread notifications: %d\n", counter.Unread())
	if !markRead || counter.Unread() == 0 {
		return nil
	}
	if err := counter.MarkAllRead(ctx); err != nil {
		rt.reportFailure("Failed to mark notifications read", err)
		return err
	}
	rt.printf("All notifications marked as read.\n")
	return nil
}

// UpdateOptions configures DoUpdateContact.
type UpdateOptions struct {
	Channel otp.Channel
	Hook    *tui.LogHook
	// FlowOptions are passed to the verification flow.
	FlowOptions []otp.Option
	// Run replaces tui.Run.
	Run func(ctx context.Context, opts tui.Options) (otp.Session, error)
}

// DoUpdateContact loads the current profile and runs the verification flow
// for the chosen channel in the terminal UI.
func DoUpdateContact(ctx context.Context, rt *Runtime, opts UpdateOptions) error {
	p, err := rt.Profile.Details(ctx)
	if err != nil {
		rt.reportFailure("Failed to load your profile", err)
		return err
	}

	run := opts.Run
	if run == nil {
		run = tui.Run
	}
	final, err := run(ctx, tui.Options{
		Channel:     opts.Channel,
		Backend:     rt.Profile.Backend(opts.Channel),
		Current:     p.Current(opts.Channel),
		Hook:        opts.Hook,
		Output:      os.Stdout,
		FlowOptions: opts.FlowOptions,
	})
	if err != nil {
		return fmt.Errorf("terminal UI: %w", err)
	}
	if final.Step != otp.StepConfirmed {
		rt.printf("%s update cancelled.\n", opts.Channel.Label())
		return nil
	}
	log.WithField("channel", opts.Channel).Info("contact detail updated")
	rt.printf("%s updated to %s.\n", opts.Channel.Label(), strings.TrimSpace(final.TargetValue))
	return nil
}

// reportFailure prints the user-facing message for err.
func (r *Runtime) reportFailure(prefix string, err error) {
	var apiErr *api.Error
	if errors.Is(err, session.ErrSessionExpired) || (errors.As(err, &apiErr) && apiErr.Kind == api.KindAuth) {
		r.printf("%s\n", session.SessionExpiredMessage)
		return
	}
	r.printf("%s: %v\n", prefix, err)
}
