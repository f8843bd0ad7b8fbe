// Package memory provides in-memory implementations of the entitlement
// Ledger and SessionStore interfaces. Primarily intended for testing and
// development; it is also the reference semantics for the other backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

// Store implements entitlement.Ledger and entitlement.SessionStore using
// mutex-guarded maps. All mutations happen under one lock, which gives the
// Charge and Put operations their atomicity.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*entitlement.Account
	txs      map[string][]*entitlement.CreditTransaction
	sessions map[string][]*entitlement.Session // key: accountID/component, oldest first
	byID     map[string]*entitlement.Session
	now      func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the wall clock, for TTL tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		accounts: make(map[string]*entitlement.Account),
		txs:      make(map[string][]*entitlement.CreditTransaction),
		sessions: make(map[string][]*entitlement.Session),
		byID:     make(map[string]*entitlement.Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount implements entitlement.Ledger
func (s *Store) CreateAccount(ctx context.Context, acct *entitlement.Account) error {
	if acct == nil || acct.ID == "" {
		return fmt.Errorf("invalid account")
	}
	if acct.CreditBalance < 0 {
		return entitlement.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acct.ID]; exists {
		return fmt.Errorf("account %s already exists", acct.ID)
	}

	now := s.now()
	acctCopy := *acct
	if acctCopy.CreatedAt.IsZero() {
		acctCopy.CreatedAt = now
	}
	acctCopy.UpdatedAt = now
	s.accounts[acct.ID] = &acctCopy
	return nil
}

// GetAccount implements entitlement.Ledger
func (s *Store) GetAccount(ctx context.Context, accountID string) (*entitlement.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}

	acctCopy := *acct
	return &acctCopy, nil
}

// GetBalance implements entitlement.Ledger
func (s *Store) GetBalance(ctx context.Context, accountID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}
	return acct.CreditBalance, nil
}

// DeactivateAccount implements entitlement.Ledger
func (s *Store) DeactivateAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}
	acct.Deactivated = true
	acct.UpdatedAt = s.now()
	return nil
}

// Charge implements entitlement.Ledger. The balance check, deduction, and
// transaction append happen under one lock; the balance can never go negative.
func (s *Store) Charge(ctx context.Context, req *entitlement.ChargeRequest) (*entitlement.CreditTransaction, error) {
	if req == nil || req.Amount <= 0 {
		return nil, entitlement.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[req.AccountID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.AccountID, entitlement.ErrUnknownAccount)
	}
	if acct.CreditBalance < req.Amount {
		return nil, &entitlement.InsufficientCreditsError{
			Required:  req.Amount,
			Available: acct.CreditBalance,
		}
	}

	acct.CreditBalance -= req.Amount
	acct.BalanceVersion++
	acct.UpdatedAt = s.now()

	tx := &entitlement.CreditTransaction{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Amount:    -req.Amount,
		Reason:    req.Reason,
		Timestamp: s.now(),
	}
	s.txs[req.AccountID] = append(s.txs[req.AccountID], tx)

	txCopy := *tx
	return &txCopy, nil
}

// Refill implements entitlement.Ledger
func (s *Store) Refill(ctx context.Context, accountID string, amount int, reason string) (*entitlement.CreditTransaction, error) {
	if amount <= 0 {
		return nil, entitlement.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}

	acct.CreditBalance += amount
	acct.BalanceVersion++
	acct.UpdatedAt = s.now()

	tx := &entitlement.CreditTransaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Reason:    reason,
		Timestamp: s.now(),
	}
	s.txs[accountID] = append(s.txs[accountID], tx)

	txCopy := *tx
	return &txCopy, nil
}

// Transactions implements entitlement.Ledger
func (s *Store) Transactions(ctx context.Context, accountID string) ([]*entitlement.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}

	out := make([]*entitlement.CreditTransaction, 0, len(s.txs[accountID]))
	for _, tx := range s.txs[accountID] {
		txCopy := *tx
		out = append(out, &txCopy)
	}
	return out, nil
}

// GetActive implements entitlement.SessionStore. Expiry is checked against
// the clock, not the stored status, so a stale row never grants access.
func (s *Store) GetActive(ctx context.Context, accountID string, component entitlement.Component) (*entitlement.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.sessions[sessionKey(accountID, component)]
	for i := len(history) - 1; i >= 0; i-- {
		sess := history[i]
		if sess.Status != entitlement.StatusActive {
			continue
		}
		if !sess.ExpiresAt.After(s.now()) {
			return nil, nil
		}
		sessCopy := *sess
		return &sessCopy, nil
	}
	return nil, nil
}

// Put implements entitlement.SessionStore. Any prior active session for the
// same key is superseded in the same write.
func (s *Store) Put(ctx context.Context, session *entitlement.Session) error {
	if session == nil || session.ID == "" || session.AccountID == "" || session.Component == "" {
		return fmt.Errorf("invalid session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(session.AccountID, session.Component)
	for _, prior := range s.sessions[key] {
		if prior.Status == entitlement.StatusActive {
			prior.Status = entitlement.StatusSuperseded
		}
	}

	sessCopy := *session
	s.sessions[key] = append(s.sessions[key], &sessCopy)
	s.byID[session.ID] = &sessCopy
	return nil
}

// ListActive implements entitlement.SessionStore
func (s *Store) ListActive(ctx context.Context, accountID string) ([]*entitlement.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	prefix := accountID + "/"
	var out []*entitlement.Session
	for key, history := range s.sessions {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].ActiveAt(now) {
				sessCopy := *history[i]
				out = append(out, &sessCopy)
				break
			}
		}
	}

	sort.Slice(out, func(a, b int) bool {
		return out[a].Component < out[b].Component
	})
	return out, nil
}

// MarkExpired implements entitlement.SessionStore
func (s *Store) MarkExpired(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[sessionID]
	if !ok {
		return fmt.Errorf("%s: %w", sessionID, entitlement.ErrSessionNotFound)
	}
	if sess.Status == entitlement.StatusActive {
		sess.Status = entitlement.StatusExpired
	}
	return nil
}

// ExpireStale implements entitlement.SessionStore
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, history := range s.sessions {
		for _, sess := range history {
			if sess.Status == entitlement.StatusActive && !sess.ExpiresAt.After(now) {
				sess.Status = entitlement.StatusExpired
				expired++
			}
		}
	}
	return expired, nil
}

// Clear removes all data (useful for testing)
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]*entitlement.Account)
	s.txs = make(map[string][]*entitlement.CreditTransaction)
	s.sessions = make(map[string][]*entitlement.Session)
	s.byID = make(map[string]*entitlement.Session)
}

func sessionKey(accountID string, component entitlement.Component) string {
	return accountID + "/" + string(component)
}
