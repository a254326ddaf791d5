// Package token holds the client's credential set and answers expiry queries
// about it. The set is persisted to a durable store.KV under StorageKey and
// loaded once at startup.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brokerdesk/portal/internal/store"
	log "github.com/sirupsen/logrus"
)

const (
	// StorageKey is the durable key holding the serialized token set.
	StorageKey = "portal/auth-tokens"

	// RefreshBuffer is how long before hard expiry a proactive refresh becomes due.
	RefreshBuffer = 5 * time.Minute
)

// Set is the full credential quadruple. Empty strings and a zero ExpiresAt mean unset.
type Set struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
}

// IsZero reports whether no field is set.
func (s Set) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.IDToken == "" && s.ExpiresAt.IsZero()
}

// persisted is the on-disk JSON shape; expiresAt is Unix milliseconds.
type persisted struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the single source of truth for the current credential set.
// Reads never block on persistence.
type Store struct {
	mu  sync.RWMutex
	set Set

	// writeMu serializes writes so the durable copy matches the last in-memory write.
	writeMu sync.Mutex
	kv      store.KV
	now     func() time.Time
}

// NewStore returns an empty store backed by kv. A nil kv keeps tokens in memory only.
func NewStore(kv store.KV, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory set with the persisted one. A missing key leaves the store empty.
func (s *Store) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.kv.Load(ctx, StorageKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("token store: load: %w", err)
	}
	var p persisted
	if err = json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("token store: decode: %w", err)
	}
	loaded := Set{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		IDToken:      p.IDToken,
	}
	if p.ExpiresAt > 0 {
		loaded.ExpiresAt = time.UnixMilli(p.ExpiresAt)
	}
	s.mu.Lock()
	s.set = loaded
	s.mu.Unlock()
	return nil
}

// MaxExpiresIn caps the lifetime accepted from the backend.
const MaxExpiresIn = int64(10 * 365 * 24 * 60 * 60)

// clampExpiresIn keeps expiresIn within [0, MaxExpiresIn] so the duration cannot overflow.
func clampExpiresIn(expiresIn int64) int64 {
	return min(max(expiresIn, 0), MaxExpiresIn)
}

// SetTokens replaces the whole set and computes ExpiresAt as now + expiresIn seconds.
// The in-memory set is updated even when persisting fails.
func (s *Store) SetTokens(ctx context.Context, accessToken, refreshToken string, expiresIn int64, idToken string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := Set{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IDToken:      idToken,
		ExpiresAt:    s.now().Add(time.Duration(clampExpiresIn(expiresIn)) * time.Second),
	}
	s.mu.Lock()
	s.set = next
	s.mu.Unlock()

	if s.kv == nil {
		return nil
	}
	data, err := json.Marshal(persisted{
		AccessToken:  next.AccessToken,
		RefreshToken: next.RefreshToken,
		IDToken:      next.IDToken,
		ExpiresAt:    next.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("token store: encode: %w", err)
	}
	if err = s.kv.Save(ctx, StorageKey, data); err != nil {
		log.WithError(err).Warn("token store: failed to persist tokens")
		return fmt.Errorf("token store: save: %w", err)
	}
	return nil
}

// ClearTokens empties the set and deletes the durable copy. Calling it again is a no-op.
func (s *Store) ClearTokens(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.set = Set{}
	s.mu.Unlock()

	if s.kv == nil {
		return nil
	}
	if err := s.kv.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("token store: delete: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current set.
func (s *Store) Snapshot() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

func (s *Store) AccessToken() string  { return s.Snapshot().AccessToken }
func (s *Store) RefreshToken() string { return s.Snapshot().RefreshToken }
func (s *Store) IDToken() string      { return s.Snapshot().IDToken }
func (s *Store) ExpiresAt() time.Time { return s.Snapshot().ExpiresAt }

// IsTokenExpired is true when ExpiresAt is unset or has been reached.
func (s *Store) IsTokenExpired() bool {
	exp := s.ExpiresAt()
	if exp.IsZero() {
		return true
	}
	return !s.now().Before(exp)
}

// ShouldRefreshToken is true when ExpiresAt is unset or within RefreshBuffer of now.
func (s *Store) ShouldRefreshToken() bool {
	exp := s.ExpiresAt()
	if exp.IsZero() {
		return true
	}
	return !s.now().Before(exp.Add(-RefreshBuffer))
}
