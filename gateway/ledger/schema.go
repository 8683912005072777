// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"database/sql"
	"fmt"
)

// EnsureSchema creates the ledger tables if they don't exist. The CHECK
// constraint on balance and the unique external reference index enforce
// the money invariants at the storage layer, below any application bug.
func EnsureSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		account_id VARCHAR(64) PRIMARY KEY,
		email VARCHAR(255) UNIQUE NOT NULL,
		tier VARCHAR(20) NOT NULL DEFAULT 'free',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS credit_accounts (
		account_id VARCHAR(64) PRIMARY KEY REFERENCES accounts(account_id),
		balance DECIMAL(20, 4) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transactions (
		transaction_id VARCHAR(64) PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL REFERENCES accounts(account_id),
		kind VARCHAR(20) NOT NULL,
		amount DECIMAL(20, 4) NOT NULL,
		balance_after DECIMAL(20, 4) NOT NULL,
		external_reference VARCHAR(255),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_external_reference
		ON transactions (account_id, external_reference)
		WHERE external_reference IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_transactions_account_created
		ON transactions (account_id, created_at);

	CREATE TABLE IF NOT EXISTS execution_records (
		execution_id VARCHAR(64) PRIMARY KEY,
		account_id VARCHAR(64) REFERENCES accounts(account_id),
		trial_key VARCHAR(255),
		operation VARCHAR(64) NOT NULL,
		reserved_amount DECIMAL(20, 4) NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_execution_records_status_started
		ON execution_records (status, started_at);
	`

	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create ledger tables: %w", err)
	}
	return nil
}
