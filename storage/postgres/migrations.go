package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order at startup. Statements are idempotent so
// re-running against an existing schema is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id              TEXT PRIMARY KEY,
		tier            TEXT NOT NULL,
		credit_balance  BIGINT NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
		balance_version BIGINT NOT NULL DEFAULT 0,
		deactivated     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount     BIGINT NOT NULL,
		reason     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_account
		ON credit_transactions (account_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS entitlement_sessions (
		id              TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL REFERENCES accounts(id),
		component       TEXT NOT NULL,
		credits_charged BIGINT NOT NULL DEFAULT 0,
		granted_at      TIMESTAMPTZ NOT NULL,
		expires_at      TIMESTAMPTZ NOT NULL,
		tier_at_grant   TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'active'
	)`,

	// At most one active session per (account, component), enforced by the
	// database as well as by Put's supersede-on-write.
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_session
		ON entitlement_sessions (account_id, component)
		WHERE status = 'active'`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_account
		ON entitlement_sessions (account_id, status)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_expiry
		ON entitlement_sessions (expires_at)
		WHERE status = 'active'`,
}

// Migrate creates the schema if it does not exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
