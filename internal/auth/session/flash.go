package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brokerdesk/portal/internal/store"
)

const (
	// FlashKey is the durable key holding a message to show after the next start.
	FlashKey = "portal/session-flash"

	// SessionExpiredMessage is shown after an unrecoverable session failure.
	SessionExpiredMessage = "Your session has expired. Please log in again."
)

// Flash is a one-shot message that survives the redirect to login.
type Flash struct {
	mu  sync.Mutex
	kv  store.KV
	mem string
}

// NewFlash stores the message in kv, or in memory when kv is nil.
func NewFlash(kv store.KV) *Flash {
	return &Flash{kv: kv}
}

// Set records msg, replacing any pending message.
func (f *Flash) Set(ctx context.Context, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kv == nil {
		f.mem = msg
		return nil
	}
	if err := f.kv.Save(ctx, FlashKey, []byte(msg)); err != nil {
		return fmt.Errorf("session flash: save: %w", err)
	}
	return nil
}

// Consume returns the pending message and removes it. Empty means none.
func (f *Flash) Consume(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kv == nil {
		msg := f.mem
		f.mem = ""
		return msg, nil
	}
	data, err := f.kv.Load(ctx, FlashKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("session flash: load: %w", err)
	}
	if err = f.kv.Delete(ctx, FlashKey); err != nil {
		return "", fmt.Errorf("session flash: delete: %w", err)
	}
	return string(data), nil
}
