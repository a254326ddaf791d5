package portal

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/brokerdesk/portal/internal/api"
)

const (
	unreadCountPath = "/notification/api/v1/unread-count"
	readAllPath     = "/notification/api/v1/read-all"
)

type unreadCount struct {
	Count int64 `json:"count"`
}

// NotificationCounter tracks the unread notification badge.
type NotificationCounter struct {
	client *api.Client
	unread atomic.Int64
}

// NewNotificationCounter returns a counter at zero.
func NewNotificationCounter(client *api.Client) *NotificationCounter {
	return &NotificationCounter{client: client}
}

// Refresh reloads the unread count.
func (n *NotificationCounter) Refresh(ctx context.Context) error {
	resp := api.Get[unreadCount](ctx, n.client, unreadCountPath, api.WithAuth())
	if err := resp.AsError(); err != nil {
		return fmt.Errorf("load unread count: %w", err)
	}
	n.unread.Store(max(resp.Data.Count, 0))
	return nil
}

// Unread returns the last known count.
func (n *NotificationCounter) Unread() int64 { return n.unread.Load() }

// MarkAllRead clears every notification and resets the count.
func (n *NotificationCounter) MarkAllRead(ctx context.Context) error {
	resp := api.Post[struct{}](ctx, n.client, readAllPath, nil, api.WithAuth())
	if err := resp.AsError(); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	n.unread.Store(0)
	return nil
}
