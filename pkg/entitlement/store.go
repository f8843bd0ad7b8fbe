package entitlement

import (
	"context"
	"time"
)

// ChargeRequest is an atomic balance deduction.
// Amount is the positive number of credits to deduct.
type ChargeRequest struct {
	AccountID string
	Amount    int
	Reason    string
}

// Ledger holds account balances and the append-only transaction log.
// Charge enforces the never-negative invariant internally; callers cannot
// bypass it by racing the balance read.
type Ledger interface {
	// CreateAccount registers a new account. The zero balance and tier on the
	// struct are taken as-is.
	CreateAccount(ctx context.Context, acct *Account) error

	// GetAccount retrieves an account, or ErrUnknownAccount
	GetAccount(ctx context.Context, accountID string) (*Account, error)

	// GetBalance returns the current credit balance for an account
	GetBalance(ctx context.Context, accountID string) (int, error)

	// DeactivateAccount marks an account inactive. Accounts are never deleted.
	DeactivateAccount(ctx context.Context, accountID string) error

	// Charge atomically deducts req.Amount from the balance and appends a
	// CreditTransaction with a negative amount. Fails with an
	// *InsufficientCreditsError (wrapping ErrInsufficientCredits) if the
	// resulting balance would go negative, leaving no state change.
	Charge(ctx context.Context, req *ChargeRequest) (*CreditTransaction, error)

	// Refill atomically adds credits and appends a positive transaction.
	// Called by the external billing collaborator, never by the unlock path.
	Refill(ctx context.Context, accountID string, amount int, reason string) (*CreditTransaction, error)

	// Transactions returns the account's audit trail, oldest first
	Transactions(ctx context.Context, accountID string) ([]*CreditTransaction, error)
}

// SessionStore holds entitlement-session records. Every read re-checks
// ExpiresAt against the clock, so correctness never depends on the Sweeper
// having run.
type SessionStore interface {
	// GetActive returns the live session for (accountID, component), or
	// (nil, nil) when there is none or the stored one has expired.
	GetActive(ctx context.Context, accountID string, component Component) (*Session, error)

	// Put writes a session, superseding any prior active session for the same
	// (accountID, component) key in the same write. This is what enforces the
	// at-most-one-active invariant.
	Put(ctx context.Context, session *Session) error

	// ListActive returns every unexpired session for the account
	ListActive(ctx context.Context, accountID string) ([]*Session, error)

	// MarkExpired transitions a session to StatusExpired, or ErrSessionNotFound
	MarkExpired(ctx context.Context, sessionID string) error

	// ExpireStale transitions every active session with ExpiresAt <= now to
	// StatusExpired and returns how many it touched. Used by the Sweeper.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}
