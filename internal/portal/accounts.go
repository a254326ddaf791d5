// Package portal holds the client-side state shared across portal screens:
// the customer's trading accounts and the unread notification count.
package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brokerdesk/portal/internal/api"
	log "github.com/sirupsen/logrus"
)

const tradingAccountsPath = "/account/api/v1/trading-accounts"

// ErrUnknownAccount is returned by Select for an id not in the book.
var ErrUnknownAccount = errors.New("portal: unknown trading account")

// TradingAccount is one account the customer can trade from.
type TradingAccount struct {
	ID       string `json:"accountId"`
	Name     string `json:"accountName"`
	Segment  string `json:"segment"`
	Status   string `json:"status"`
	Primary  bool   `json:"isPrimary"`
	Exchange string `json:"exchange"`
}

// AccountBook caches the trading accounts and the selected one.
type AccountBook struct {
	client *api.Client

	mu       sync.RWMutex
	accounts []TradingAccount
	selected string
}

// NewAccountBook returns an empty book backed by client.
func NewAccountBook(client *api.Client) *AccountBook {
	return &AccountBook{client: client}
}

// Refresh reloads the accounts. The selection survives when the account still
// exists; otherwise the primary account, or the first one, is selected.
func (b *AccountBook) Refresh(ctx context.Context) error {
	resp := api.Get[[]TradingAccount](ctx, b.client, tradingAccountsPath, api.WithAuth())
	if err := resp.AsError(); err != nil {
		return fmt.Errorf("load trading accounts: %w", err)
	}
	accounts := *resp.Data

	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts = accounts
	if _, ok := b.findLocked(b.selected); !ok {
		b.selected = defaultSelection(accounts)
	}
	log.WithField("count", len(accounts)).Debug("portal: trading accounts refreshed")
	return nil
}

// Accounts returns a copy of the cached accounts.
func (b *AccountBook) Accounts() []TradingAccount {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]TradingAccount(nil), b.accounts...)
}

// Select marks id as the active account.
func (b *AccountBook) Select(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.findLocked(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	b.selected = id
	return nil
}

// Selected returns the active account, if any.
func (b *AccountBook) Selected() (TradingAccount, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.findLocked(b.selected)
}

func (b *AccountBook) findLocked(id string) (TradingAccount, bool) {
	if id == "" {
		return TradingAccount{}, false
	}
	for _, a := range b.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return TradingAccount{}, false
}

func defaultSelection(accounts []TradingAccount) string {
	for _, a := range accounts {
		if a.Primary {
			return a.ID
		}
	}
	if len(accounts) > 0 {
		return accounts[0].ID
	}
	return ""
}
