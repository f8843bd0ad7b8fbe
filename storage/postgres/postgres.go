// Package postgres provides a PostgreSQL implementation of the entitlement
// Ledger and SessionStore interfaces. Charges and session writes run inside
// transactions with row-level locks on the account row, so the engine's
// invariants hold across processes, not just within one.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

// Store implements entitlement.Ledger and entitlement.SessionStore using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Migrate runs schema migrations at startup (default via DefaultConfig: true)
	Migrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		Migrate:         true,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.Migrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateAccount implements entitlement.Ledger
func (s *Store) CreateAccount(ctx context.Context, acct *entitlement.Account) error {
	if acct == nil || acct.ID == "" {
		return fmt.Errorf("invalid account")
	}
	if acct.CreditBalance < 0 {
		return entitlement.ErrInvalidAmount
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, tier, credit_balance, balance_version, deactivated)
			VALUES ($1, $2, $3, 0, $4)`,
		acct.ID, string(acct.Tier), acct.CreditBalance, acct.Deactivated)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount implements entitlement.Ledger
func (s *Store) GetAccount(ctx context.Context, accountID string) (*entitlement.Account, error) {
	var acct entitlement.Account
	var tier string

	err := s.pool.QueryRow(ctx,
		`SELECT id, tier, credit_balance, balance_version, deactivated, created_at, updated_at
			FROM accounts WHERE id = $1`,
		accountID).Scan(
		&acct.ID, &tier, &acct.CreditBalance, &acct.BalanceVersion,
		&acct.Deactivated, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acct.Tier = entitlement.Tier(tier)
	return &acct, nil
}

// GetBalance implements entitlement.Ledger
func (s *Store) GetBalance(ctx context.Context, accountID string) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx,
		`SELECT credit_balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// DeactivateAccount implements entitlement.Ledger
func (s *Store) DeactivateAccount(ctx context.Context, accountID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET deactivated = TRUE, updated_at = now() WHERE id = $1`,
		accountID)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}
	return nil
}

// Charge implements entitlement.Ledger. The balance check, deduction, and
// transaction append happen inside one transaction with the account row
// locked, so concurrent charges from other processes serialize here.
func (s *Store) Charge(ctx context.Context, req *entitlement.ChargeRequest) (*entitlement.CreditTransaction, error) {
	if req == nil || req.Amount <= 0 {
		return nil, entitlement.ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int
	err = tx.QueryRow(ctx,
		`SELECT credit_balance FROM accounts WHERE id = $1 FOR UPDATE`,
		req.AccountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", req.AccountID, entitlement.ErrUnknownAccount)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	if balance < req.Amount {
		return nil, &entitlement.InsufficientCreditsError{
			Required:  req.Amount,
			Available: balance,
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts
			SET credit_balance = credit_balance - $2,
			    balance_version = balance_version + 1,
			    updated_at = now()
			WHERE id = $1`,
		req.AccountID, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	record := &entitlement.CreditTransaction{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Amount:    -req.Amount,
		Reason:    req.Reason,
		Timestamp: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, account_id, amount, reason, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.AccountID, record.Amount, record.Reason, record.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit charge: %w", err)
	}
	return record, nil
}

// Refill implements entitlement.Ledger
func (s *Store) Refill(ctx context.Context, accountID string, amount int, reason string) (*entitlement.CreditTransaction, error) {
	if amount <= 0 {
		return nil, entitlement.ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE accounts
			SET credit_balance = credit_balance + $2,
			    balance_version = balance_version + 1,
			    updated_at = now()
			WHERE id = $1`,
		accountID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}

	record := &entitlement.CreditTransaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, account_id, amount, reason, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.AccountID, record.Amount, record.Reason, record.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit refill: %w", err)
	}
	return record, nil
}

// Transactions implements entitlement.Ledger
func (s *Store) Transactions(ctx context.Context, accountID string) ([]*entitlement.CreditTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, amount, reason, created_at
			FROM credit_transactions WHERE account_id = $1 ORDER BY created_at`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []*entitlement.CreditTransaction
	for rows.Next() {
		var record entitlement.CreditTransaction
		if err := rows.Scan(&record.ID, &record.AccountID, &record.Amount,
			&record.Reason, &record.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, &record)
	}
	return out, rows.Err()
}

// GetActive implements entitlement.SessionStore. Expiry is part of the query
// predicate, so a stale status never grants access.
func (s *Store) GetActive(ctx context.Context, accountID string, component entitlement.Component) (*entitlement.Session, error) {
	sess, err := s.scanSession(s.pool.QueryRow(ctx,
		`SELECT id, account_id, component, credits_charged, granted_at, expires_at, tier_at_grant, status
			FROM entitlement_sessions
			WHERE account_id = $1 AND component = $2 AND status = 'active' AND expires_at > now()
			ORDER BY granted_at DESC LIMIT 1`,
		accountID, string(component)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// Put implements entitlement.SessionStore. The supersede and insert share a
// transaction, which together with the partial unique index enforces the
// at-most-one-active invariant.
func (s *Store) Put(ctx context.Context, session *entitlement.Session) error {
	if session == nil || session.ID == "" || session.AccountID == "" || session.Component == "" {
		return fmt.Errorf("invalid session")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`UPDATE entitlement_sessions SET status = 'superseded'
			WHERE account_id = $1 AND component = $2 AND status = 'active'`,
		session.AccountID, string(session.Component))
	if err != nil {
		return fmt.Errorf("failed to supersede prior session: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO entitlement_sessions
			(id, account_id, component, credits_charged, granted_at, expires_at, tier_at_grant, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.AccountID, string(session.Component), session.CreditsCharged,
		session.GrantedAt, session.ExpiresAt, string(session.TierAtGrant), string(session.Status))
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session write: %w", err)
	}
	return nil
}

// ListActive implements entitlement.SessionStore
func (s *Store) ListActive(ctx context.Context, accountID string) ([]*entitlement.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, component, credits_charged, granted_at, expires_at, tier_at_grant, status
			FROM entitlement_sessions
			WHERE account_id = $1 AND status = 'active' AND expires_at > now()
			ORDER BY component`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []*entitlement.Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// MarkExpired implements entitlement.SessionStore
func (s *Store) MarkExpired(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE entitlement_sessions SET status = 'expired'
			WHERE id = $1 AND status = 'active'`,
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM entitlement_sessions WHERE id = $1)`,
			sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}
		if !exists {
			return fmt.Errorf("%s: %w", sessionID, entitlement.ErrSessionNotFound)
		}
	}
	return nil
}

// ExpireStale implements entitlement.SessionStore
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE entitlement_sessions SET status = 'expired'
			WHERE status = 'active' AND expires_at <= $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSession(row rowScanner) (*entitlement.Session, error) {
	var sess entitlement.Session
	var component, tier, status string

	err := row.Scan(&sess.ID, &sess.AccountID, &component, &sess.CreditsCharged,
		&sess.GrantedAt, &sess.ExpiresAt, &tier, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	sess.Component = entitlement.Component(component)
	sess.TierAtGrant = entitlement.Tier(tier)
	sess.Status = entitlement.SessionStatus(status)
	return &sess, nil
}
