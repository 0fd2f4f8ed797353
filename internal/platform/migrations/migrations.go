// Package migrations creates the payroll ledger schema. Statements are
// idempotent so Apply can run on every boot.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS payroll_payments (
		idx           BIGINT PRIMARY KEY,
		recipient     TEXT NOT NULL,
		asset         TEXT NOT NULL,
		amount        NUMERIC(78, 0) NOT NULL CHECK (amount > 0),
		chain_tag     TEXT NOT NULL DEFAULT '',
		executed      BOOLEAN NOT NULL DEFAULT FALSE,
		scheduled_seq BIGINT NOT NULL,
		scheduled_at  TIMESTAMPTZ NOT NULL,
		executed_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS payroll_payments_unexecuted
		ON payroll_payments (asset) WHERE NOT executed`,
	`CREATE TABLE IF NOT EXISTS payroll_escrow (
		asset   TEXT PRIMARY KEY,
		balance NUMERIC(78, 0) NOT NULL DEFAULT 0 CHECK (balance >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS payroll_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payroll_admins (
		principal TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS payroll_yield_wallets (
		asset  TEXT PRIMARY KEY,
		wallet TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payroll_routing (
		id           TEXT PRIMARY KEY,
		direction    TEXT NOT NULL,
		asset        TEXT NOT NULL,
		counterparty TEXT NOT NULL,
		amount       NUMERIC(78, 0) NOT NULL CHECK (amount > 0),
		memo         TEXT NOT NULL DEFAULT '',
		actor        TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
}

// Apply runs every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
