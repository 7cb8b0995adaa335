package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id             TEXT PRIMARY KEY,
		gateway        TEXT NOT NULL,
		amount         NUMERIC(12, 2) NOT NULL CHECK (amount > 0),
		customer_name  TEXT NOT NULL,
		customer_email TEXT NOT NULL,
		customer_phone TEXT NOT NULL,
		product_name   TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'PENDING'
		               CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED')),
		provider_ref   TEXT,
		reference_id   TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_status_created_idx
		ON transactions (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS transaction_logs (
		id             BIGSERIAL PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions (id),
		log_type       TEXT NOT NULL,
		payload        JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS transaction_logs_txn_idx
		ON transaction_logs (transaction_id, id)`,
}

// Migrate creates the tables the service needs. Every statement is idempotent.
func Migrate(ctx context.Context, q Querier) error {
	for i, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
