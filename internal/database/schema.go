package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		balance       BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		currency      CHAR(3) NOT NULL,
		daily_limit   BIGINT NOT NULL DEFAULT 0,
		offline_limit BIGINT NOT NULL DEFAULT 0,
		spent_today   BIGINT NOT NULL DEFAULT 0,
		spent_day     TEXT NOT NULL DEFAULT '',
		version       BIGINT NOT NULL DEFAULT 0,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		transaction_id  TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL REFERENCES accounts(id),
		kind            TEXT NOT NULL,
		amount          BIGINT NOT NULL CHECK (amount > 0),
		currency        CHAR(3) NOT NULL,
		provider        TEXT NOT NULL DEFAULT '',
		provider_ref    TEXT NOT NULL DEFAULT '',
		merchant_id     TEXT NOT NULL DEFAULT '',
		merchant_name   TEXT NOT NULL DEFAULT '',
		category        TEXT NOT NULL DEFAULT '',
		device_id       TEXT NOT NULL DEFAULT '',
		client_sequence BIGINT NOT NULL DEFAULT 0,
		offline         BOOLEAN NOT NULL DEFAULT FALSE,
		occurred_at     TIMESTAMPTZ NOT NULL,
		received_at     TIMESTAMPTZ NOT NULL,
		signature       TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		reason          TEXT NOT NULL DEFAULT '',
		balance_after   BIGINT NOT NULL DEFAULT 0,
		settled_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_status ON transactions (account_id, status)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id             BIGSERIAL PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(transaction_id),
		account_id     TEXT NOT NULL REFERENCES accounts(id),
		amount         BIGINT NOT NULL,
		entry_type     TEXT NOT NULL,
		balance_after  BIGINT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_transaction ON ledger_entries (transaction_id, entry_type)`,
}

// InitSchema creates the wallet tables when they are missing
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
