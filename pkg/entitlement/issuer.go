package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds issuer configuration
type Config struct {
	// Catalog is the initial pricing/window catalog (default: DefaultCatalog)
	Catalog *Catalog

	// UnlockTimeout bounds one unlock operation end to end (default: 5s).
	// A request that cannot complete in time fails with ErrBackendUnavailable
	// instead of hanging, and applies no partial state.
	UnlockTimeout time.Duration

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking unlock operations (default: NoopMetrics)
	Metrics Metrics

	// CircuitBreaker configures the breaker guarding storage calls
	CircuitBreaker *CircuitBreakerConfig

	// Clock overrides wall-clock time, for tests (default: time.Now)
	Clock func() time.Time
}

// Issuer is the authority that decides whether an account may access a paid
// component, charges the correct number of credits exactly once, and
// remembers the grant for the tier's window so normal navigation never
// re-charges the user.
type Issuer struct {
	ledger   Ledger
	sessions SessionStore
	config   Config
	catalog  atomic.Pointer[Catalog]
	locks    accountLocks
	breaker  CircuitBreaker
}

// NewIssuer creates an issuer over the given ledger and session store
func NewIssuer(ledger Ledger, sessions SessionStore, config Config) (*Issuer, error) {
	if ledger == nil || sessions == nil {
		return nil, ErrStorageUnavailable
	}

	if config.Catalog == nil {
		config.Catalog = DefaultCatalog()
	}
	if err := config.Catalog.Validate(); err != nil {
		return nil, err
	}
	if config.UnlockTimeout <= 0 {
		config.UnlockTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	i := &Issuer{
		ledger:   ledger,
		sessions: sessions,
		config:   config,
	}
	i.catalog.Store(config.Catalog)

	if config.CircuitBreaker != nil && config.CircuitBreaker.Enabled {
		i.breaker = newCircuitBreaker(*config.CircuitBreaker, func(state CircuitBreakerState) {
			config.Metrics.RecordCircuitBreakerStateChange(string(state))
			config.Logger.Warn("circuit breaker state change", Field{Key: "state", Value: string(state)})
		})
	}

	return i, nil
}

// Catalog returns the catalog currently in effect
func (i *Issuer) Catalog() *Catalog {
	return i.catalog.Load()
}

// ReloadCatalog swaps in a new catalog after validating it. This is the only
// way policy changes at runtime; request handling never mutates the catalog.
func (i *Issuer) ReloadCatalog(catalog *Catalog) error {
	if err := catalog.Validate(); err != nil {
		return err
	}
	i.catalog.Store(catalog)
	i.config.Logger.Info("catalog reloaded",
		Field{Key: "tiers", Value: len(catalog.Tiers)},
		Field{Key: "components", Value: len(catalog.Costs)})
	return nil
}

// RequestUnlock grants access to a component, charging credits exactly once.
// If a live session already exists for (accountID, component) it is returned
// unchanged with ExistingSession=true and no charge. A fresh grant deducts
// the catalog cost, appends a CreditTransaction, and writes a new active
// session whose expiry comes from the tier's window.
func (i *Issuer) RequestUnlock(ctx context.Context, req *UnlockRequest) (*Unlock, error) {
	start := time.Now()
	cat := i.catalog.Load()

	cost, err := cat.Cost(req.Component)
	if err != nil {
		i.recordUnlock(req.Component, tierUnknown, "error", start)
		return nil, err
	}
	if req.DeclaredCost != 0 && req.DeclaredCost != cost {
		// Catalog wins over whatever the client believes the price is.
		i.config.Logger.Warn("declared cost differs from catalog",
			Field{Key: "account_id", Value: req.AccountID},
			Field{Key: "component", Value: string(req.Component)},
			Field{Key: "declared", Value: req.DeclaredCost},
			Field{Key: "catalog", Value: cost})
	}

	ctx, cancel := context.WithTimeout(ctx, i.config.UnlockTimeout)
	defer cancel()

	unlock := i.locks.lock(req.AccountID)
	defer unlock()

	acct, err := i.getAccount(ctx, req.AccountID)
	if err != nil {
		i.recordUnlock(req.Component, tierUnknown, "error", start)
		return nil, err
	}
	if acct.Deactivated {
		i.recordUnlock(req.Component, acct.Tier, "error", start)
		return nil, fmt.Errorf("%s: %w", req.AccountID, ErrAccountDeactivated)
	}

	tier := acct.Tier
	if req.Tier != "" && req.Tier != tier {
		// The account record is authoritative for the tier, same as the
		// catalog is for the cost.
		i.config.Logger.Warn("declared tier differs from account",
			Field{Key: "account_id", Value: req.AccountID},
			Field{Key: "declared", Value: string(req.Tier)},
			Field{Key: "account", Value: string(tier)})
	}
	pol, ok := cat.Tiers[tier]
	if !ok {
		i.recordUnlock(req.Component, tier, "error", start)
		return nil, fmt.Errorf("%s: %w", tier, ErrUnknownTier)
	}
	if !pol.Allows(req.Component) {
		i.recordUnlock(req.Component, tier, "forbidden", start)
		return nil, fmt.Errorf("%s excludes %s: %w", tier, req.Component, ErrTierForbidden)
	}

	existing, err := i.getActive(ctx, req.AccountID, req.Component)
	if err != nil {
		i.recordUnlock(req.Component, tier, "error", start)
		return nil, err
	}
	if existing != nil {
		// Idempotent re-entry: same session, no charge.
		i.recordUnlock(req.Component, tier, "existing", start)
		i.config.Logger.Debug("unlock re-entry",
			Field{Key: "account_id", Value: req.AccountID},
			Field{Key: "component", Value: string(req.Component)},
			Field{Key: "session_id", Value: existing.ID})
		return &Unlock{Session: existing, CreditsUsed: 0, ExistingSession: true}, nil
	}

	var tx *CreditTransaction
	charged := 0
	if !pol.Unmetered {
		tx, err = i.charge(ctx, &ChargeRequest{
			AccountID: req.AccountID,
			Amount:    cost,
			Reason:    "unlock:" + string(req.Component),
		})
		i.config.Metrics.RecordCharge(string(req.Component), string(tier), cost, err == nil)
		if err != nil {
			outcome := "error"
			if errors.Is(err, ErrInsufficientCredits) {
				outcome = "insufficient"
			}
			i.recordUnlock(req.Component, tier, outcome, start)
			return nil, err
		}
		charged = cost
	}

	now := i.config.Clock()
	window := pol.WindowFor(req.Component)
	sess := &Session{
		ID:             uuid.NewString(),
		AccountID:      req.AccountID,
		Component:      req.Component,
		CreditsCharged: charged,
		GrantedAt:      now,
		ExpiresAt:      now.Add(window),
		TierAtGrant:    tier,
		Status:         StatusActive,
	}

	if err := i.putSession(ctx, sess); err != nil {
		// A user must never be charged without receiving a working session.
		if tx != nil {
			i.reverseCharge(req.AccountID, charged, req.Component)
		}
		i.recordUnlock(req.Component, tier, "error", start)
		return nil, err
	}

	i.recordUnlock(req.Component, tier, "granted", start)
	i.config.Logger.Info("unlock granted",
		Field{Key: "account_id", Value: req.AccountID},
		Field{Key: "component", Value: string(req.Component)},
		Field{Key: "tier", Value: string(tier)},
		Field{Key: "credits", Value: charged},
		Field{Key: "expires_at", Value: sess.ExpiresAt})

	return &Unlock{Session: sess, CreditsUsed: charged, ExistingSession: false}, nil
}

// QueryActiveSessions returns every unexpired session for the account.
// Status is recomputed against the clock, never read from a possibly-stale
// stored value. Pure read, no side effects.
func (i *Issuer) QueryActiveSessions(ctx context.Context, accountID string) ([]*Session, error) {
	start := time.Now()
	defer func() {
		i.config.Metrics.RecordSessionQuery(time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, i.config.UnlockTimeout)
	defer cancel()

	var sessions []*Session
	err := i.execute(ctx, "list_active", func() error {
		var err error
		sessions, err = i.sessions.ListActive(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// getAccount reads the account through the breaker, mapping failures
func (i *Issuer) getAccount(ctx context.Context, accountID string) (*Account, error) {
	var acct *Account
	err := i.execute(ctx, "get_account", func() error {
		var err error
		acct, err = i.ledger.GetAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (i *Issuer) getActive(ctx context.Context, accountID string, component Component) (*Session, error) {
	var sess *Session
	err := i.execute(ctx, "get_active", func() error {
		var err error
		sess, err = i.sessions.GetActive(ctx, accountID, component)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (i *Issuer) charge(ctx context.Context, req *ChargeRequest) (*CreditTransaction, error) {
	var tx *CreditTransaction
	err := i.execute(ctx, "charge", func() error {
		var err error
		tx, err = i.ledger.Charge(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (i *Issuer) putSession(ctx context.Context, sess *Session) error {
	return i.execute(ctx, "put_session", func() error {
		return i.sessions.Put(ctx, sess)
	})
}

// reverseCharge refunds a charge whose session write failed. Runs on a fresh
// context: the original one may already be past its deadline.
func (i *Issuer) reverseCharge(accountID string, amount int, component Component) {
	ctx, cancel := context.WithTimeout(context.Background(), i.config.UnlockTimeout)
	defer cancel()

	if _, err := i.ledger.Refill(ctx, accountID, amount, "reversal:"+string(component)); err != nil {
		i.config.Logger.Error("charge reversal failed",
			Field{Key: "account_id", Value: accountID},
			Field{Key: "component", Value: string(component)},
			Field{Key: "amount", Value: amount},
			Field{Key: "error", Value: err.Error()})
		return
	}
	i.config.Logger.Warn("charge reversed after session write failure",
		Field{Key: "account_id", Value: accountID},
		Field{Key: "component", Value: string(component)},
		Field{Key: "amount", Value: amount})
}

// execute runs one storage call through the breaker (when enabled), records
// its duration, and maps infrastructure failures to ErrBackendUnavailable.
func (i *Issuer) execute(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	var err error
	if i.breaker != nil {
		err = i.breaker.Execute(ctx, fn)
	} else {
		err = fn()
	}
	i.config.Metrics.RecordStorageOperation(op, time.Since(start), err)

	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, ErrBackendUnavailable)
	}
	return err
}

// tierUnknown labels unlock metrics recorded before the account's
// authoritative tier has been loaded. The client-declared tier is never
// used as a label: it is unverified and may be empty.
const tierUnknown Tier = "unknown"

func (i *Issuer) recordUnlock(component Component, tier Tier, outcome string, start time.Time) {
	i.config.Metrics.RecordUnlock(string(component), string(tier), outcome, time.Since(start))
}
