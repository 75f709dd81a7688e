package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ledgerDDL = []string{
	`CREATE TABLE IF NOT EXISTS balances (
  id          UUID PRIMARY KEY,
  payer_id    VARCHAR(255) NOT NULL UNIQUE,
  available   NUMERIC(19,2) NOT NULL DEFAULT 0 CHECK (available >= 0),
  reserved    NUMERIC(19,2) NOT NULL DEFAULT 0 CHECK (reserved >= 0),
  created_at  TIMESTAMPTZ NOT NULL,
  updated_at  TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS transactions (
  id          UUID PRIMARY KEY,
  balance_id  UUID NOT NULL REFERENCES balances(id),
  payer_id    VARCHAR(255) NOT NULL,
  amount      NUMERIC(19,2) NOT NULL,
  commission  NUMERIC(19,2) NOT NULL DEFAULT 0,
  kind        VARCHAR(16) NOT NULL,
  payment_id  UUID,
  status      VARCHAR(16) NOT NULL,
  message     TEXT NOT NULL DEFAULT '',
  created_at  TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS transactions_payer_idx ON transactions (payer_id, created_at DESC)`,
	// one hold per payment, whatever the outcome
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_hold_payment_uidx ON transactions (payment_id) WHERE kind = 'HOLD'`,
}

// InitLedgerSchema creates the balance service tables when missing.
func InitLedgerSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range ledgerDDL {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init ledger schema: %w", err)
		}
	}
	return nil
}

// InitPaymentSchema creates the payment service tables when missing.
func InitPaymentSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS payments (
  id               CHAR(36)      PRIMARY KEY,
  amount           DECIMAL(19,2) NOT NULL,
  status           ENUM('CREATED','PROCESSING','COMPLETED','FAILED') NOT NULL,
  callback_url     VARCHAR(2048) NOT NULL,
  payer_id         VARCHAR(255)  NOT NULL,
  publish_attempts INT           NOT NULL DEFAULT 0,
  created_at       DATETIME(6)   NOT NULL,
  updated_at       DATETIME(6)   NOT NULL,
  created_by       VARCHAR(255)  NOT NULL,
  updated_by       VARCHAR(255)  NOT NULL,
  INDEX (payer_id),
  INDEX (status, updated_at)
)`); err != nil {
		return fmt.Errorf("init payment schema: %w", err)
	}
	return nil
}
