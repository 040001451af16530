// Package ledger tracks per-user token balances and generated-video
// counters. Accounts are created lazily with the configured initial grant on
// first contact.
package ledger

import "context"

// Profile carries the Telegram identity fields stored alongside a balance.
// Empty fields never overwrite stored values.
type Profile struct {
	Username  string
	FirstName string
}

// Account is one user's ledger record.
type Account struct {
	UserID     int64
	Balance    int
	Username   string
	FirstName  string
	VideoCount int
}

// Totals aggregates the ledger for the ops surface.
type Totals struct {
	Users  int
	Tokens int
	Videos int
}

// Store is the balance ledger. Implementations serialize mutations
// internally; cross-process consistency follows the backend (the file store
// is last-write-wins, Postgres is authoritative).
type Store interface {
	// Account returns the user's record, creating it with the initial grant
	// on first contact and refreshing profile fields when non-empty.
	Account(ctx context.Context, userID int64, profile Profile) (Account, error)
	// Balance reports the token balance, creating the account if needed.
	Balance(ctx context.Context, userID int64) (int, error)
	// AddTokens credits amount and returns the new balance.
	AddTokens(ctx context.Context, userID int64, amount int, profile Profile) (int, error)
	// SpendTokens debits amount if the balance covers it. It reports false
	// and leaves the balance unchanged when it does not.
	SpendTokens(ctx context.Context, userID int64, amount int) (bool, error)
	// IncrementVideoCount bumps the user's produced-video counter.
	IncrementVideoCount(ctx context.Context, userID int64) error
	// Totals aggregates all accounts.
	Totals(ctx context.Context) (Totals, error)
}
