// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// maxReserveAttempts bounds the optimistic concurrency retry loop.
const maxReserveAttempts = 5

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAccount creates an account together with its zero-balance credit
// account in one transaction.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (account_id, email, tier, created_at)
		VALUES ($1, $2, $3, $4)
	`, account.AccountID, account.Email, account.Tier, account.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (account_id, balance, version, updated_at)
		VALUES ($1, 0, 0, $2)
	`, account.AccountID, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create credit account: %w", err)
	}

	return tx.Commit()
}

// GetAccount retrieves an account by ID
func (r *PostgresRepository) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	return r.getAccount(ctx, "account_id", accountID)
}

// GetAccountByEmail retrieves an account by email
func (r *PostgresRepository) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return r.getAccount(ctx, "email", email)
}

func (r *PostgresRepository) getAccount(ctx context.Context, column, value string) (*Account, error) {
	query := fmt.Sprintf(`
		SELECT account_id, email, tier, created_at
		FROM accounts
		WHERE %s = $1
	`, column)

	var account Account
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&account.AccountID, &account.Email, &account.Tier, &account.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetCreditAccount retrieves the balance row for an account
func (r *PostgresRepository) GetCreditAccount(ctx context.Context, accountID string) (*CreditAccount, error) {
	var ca CreditAccount
	err := r.db.QueryRowContext(ctx, `
		SELECT account_id, balance, version, updated_at
		FROM credit_accounts
		WHERE account_id = $1
	`, accountID).Scan(&ca.AccountID, &ca.Balance, &ca.Version, &ca.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credit account: %w", err)
	}
	return &ca, nil
}

// Reserve atomically debits the reserved amount, appends the reservation
// transaction, and inserts the execution record. Optimistic versioning on
// credit_accounts guarantees two concurrent reservations can never both
// spend the same credit; a lost race is retried against the fresh balance.
func (r *PostgresRepository) Reserve(ctx context.Context, rec *ExecutionRecord, transactionID string) error {
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		conflict, err := r.tryReserve(ctx, rec, transactionID)
		if err != nil {
			return err
		}
		if !conflict {
			return nil
		}
	}
	return ErrVersionConflict
}

func (r *PostgresRepository) tryReserve(ctx context.Context, rec *ExecutionRecord, transactionID string) (conflict bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance decimal.Decimal
	var version int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance, version FROM credit_accounts WHERE account_id = $1
	`, rec.AccountID).Scan(&balance, &version)
	if err == sql.ErrNoRows {
		return false, ErrAccountNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read balance: %w", err)
	}

	if balance.LessThan(rec.ReservedAmount) {
		return false, ErrInsufficientCredit
	}
	newBalance := balance.Sub(rec.ReservedAmount)

	res, err := tx.ExecContext(ctx, `
		UPDATE credit_accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE account_id = $3 AND version = $4
	`, newBalance, rec.StartedAt, rec.AccountID, version)
	if err != nil {
		return false, fmt.Errorf("failed to debit balance: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// Another reservation won the version race; retry on fresh state.
		return true, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, account_id, kind, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, transactionID, rec.AccountID, KindReservation, rec.ReservedAmount.Neg(), newBalance, rec.StartedAt)
	if err != nil {
		return false, fmt.Errorf("failed to append reservation transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_records (execution_id, account_id, operation, reserved_amount, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ExecutionID, rec.AccountID, rec.Operation, rec.ReservedAmount, StatusReserved, rec.StartedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert execution record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return false, nil
}

// InsertTrialExecution records a zero-amount execution for the trial path.
func (r *PostgresRepository) InsertTrialExecution(ctx context.Context, rec *ExecutionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_records (execution_id, trial_key, operation, reserved_amount, status, started_at)
		VALUES ($1, $2, $3, 0, $4, $5)
	`, rec.ExecutionID, rec.TrialKey, rec.Operation, StatusReserved, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trial execution record: %w", err)
	}
	return nil
}

// Commit transitions a reserved execution to committed and appends a
// zero-amount commit transaction for the audit trail (the debit happened
// at reserve time). Committing an already-committed record is a no-op;
// committing a released record is reported as ErrCommitAfterRelease so
// the caller can raise an integrity alert.
func (r *PostgresRepository) Commit(ctx context.Context, executionID, transactionID string, finishedAt time.Time) (*ExecutionRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rec ExecutionRecord
	var accountID, trialKey sql.NullString
	err = tx.QueryRowContext(ctx, `
		UPDATE execution_records
		SET status = $1, finished_at = $2
		WHERE execution_id = $3 AND status = $4
		RETURNING execution_id, account_id, trial_key, operation, reserved_amount, started_at
	`, StatusCommitted, finishedAt, executionID, StatusReserved).Scan(
		&rec.ExecutionID, &accountID, &trialKey, &rec.Operation, &rec.ReservedAmount, &rec.StartedAt,
	)
	if err == sql.ErrNoRows {
		existing, getErr := r.GetExecution(ctx, executionID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status == StatusReleased {
			return existing, ErrCommitAfterRelease
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to commit execution: %w", err)
	}

	rec.AccountID = accountID.String
	rec.TrialKey = trialKey.String
	rec.Status = StatusCommitted
	rec.FinishedAt = &finishedAt

	if rec.AccountID != "" {
		var balance decimal.Decimal
		err = tx.QueryRowContext(ctx, `
			SELECT balance FROM credit_accounts WHERE account_id = $1
		`, rec.AccountID).Scan(&balance)
		if err != nil {
			return nil, fmt.Errorf("failed to read balance for commit audit: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (transaction_id, account_id, kind, amount, balance_after, created_at)
			VALUES ($1, $2, $3, 0, $4, $5)
		`, transactionID, rec.AccountID, KindCommit, balance, finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to append commit transaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return &rec, nil
}

// Release transitions a reserved execution to released and refunds the
// reserved amount. The returned bool reports whether a refund was applied;
// records already in a terminal state are left untouched.
func (r *PostgresRepository) Release(ctx context.Context, executionID, transactionID string, finishedAt time.Time) (*ExecutionRecord, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rec ExecutionRecord
	var accountID, trialKey sql.NullString
	err = tx.QueryRowContext(ctx, `
		UPDATE execution_records
		SET status = $1, finished_at = $2
		WHERE execution_id = $3 AND status = $4
		RETURNING execution_id, account_id, trial_key, operation, reserved_amount, started_at
	`, StatusReleased, finishedAt, executionID, StatusReserved).Scan(
		&rec.ExecutionID, &accountID, &trialKey, &rec.Operation, &rec.ReservedAmount, &rec.StartedAt,
	)
	if err == sql.ErrNoRows {
		// Already terminal (or missing): idempotent no-op.
		existing, getErr := r.GetExecution(ctx, executionID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to release execution: %w", err)
	}

	rec.AccountID = accountID.String
	rec.TrialKey = trialKey.String
	rec.Status = StatusReleased
	rec.FinishedAt = &finishedAt

	if rec.AccountID == "" || rec.ReservedAmount.IsZero() {
		// Trial executions hold no money.
		return &rec, false, tx.Commit()
	}

	var newBalance decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance + $1, version = version + 1, updated_at = $2
		WHERE account_id = $3
		RETURNING balance
	`, rec.ReservedAmount, finishedAt, rec.AccountID).Scan(&newBalance)
	if err != nil {
		return nil, false, fmt.Errorf("failed to refund balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, account_id, kind, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, transactionID, rec.AccountID, KindRelease, rec.ReservedAmount, newBalance, finishedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to append release transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit release: %w", err)
	}
	return &rec, true, nil
}

// Credit applies a webhook top-up. A reference already present in the
// transaction log makes the call a no-op; the unique
// (account_id, external_reference) index closes the race between two
// concurrent deliveries of the same event.
func (r *PostgresRepository) Credit(ctx context.Context, accountID, transactionID string, amount decimal.Decimal, externalReference string, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := r.creditAmountForReference(ctx, tx, accountID, externalReference)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if !existing.Equal(amount) {
			return false, ErrCreditAmountMismatch
		}
		return false, nil
	}

	var newBalance decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance + $1, version = version + 1, updated_at = $2
		WHERE account_id = $3
		RETURNING balance
	`, amount, now, accountID).Scan(&newBalance)
	if err == sql.ErrNoRows {
		return false, ErrAccountNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to credit balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, account_id, kind, amount, balance_after, external_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, transactionID, accountID, KindCredit, amount, newBalance, externalReference, now)
	if err != nil {
		if isDuplicateKey(err) {
			// Lost a redelivery race; verify the winner wrote the same amount.
			applied, checkErr := r.verifyDuplicateCredit(ctx, accountID, externalReference, amount)
			return applied, checkErr
		}
		return false, fmt.Errorf("failed to append credit transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit credit: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) creditAmountForReference(ctx context.Context, tx *sql.Tx, accountID, externalReference string) (*decimal.Decimal, error) {
	var amount decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT amount FROM transactions
		WHERE account_id = $1 AND external_reference = $2
	`, accountID, externalReference).Scan(&amount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check external reference: %w", err)
	}
	return &amount, nil
}

func (r *PostgresRepository) verifyDuplicateCredit(ctx context.Context, accountID, externalReference string, amount decimal.Decimal) (bool, error) {
	var recorded decimal.Decimal
	err := r.db.QueryRowContext(ctx, `
		SELECT amount FROM transactions
		WHERE account_id = $1 AND external_reference = $2
	`, accountID, externalReference).Scan(&recorded)
	if err != nil {
		return false, fmt.Errorf("failed to verify duplicate credit: %w", err)
	}
	if !recorded.Equal(amount) {
		return false, ErrCreditAmountMismatch
	}
	return false, nil
}

// GetExecution retrieves an execution record by ID
func (r *PostgresRepository) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	var accountID, trialKey sql.NullString
	var finishedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT execution_id, account_id, trial_key, operation, reserved_amount, status, started_at, finished_at
		FROM execution_records
		WHERE execution_id = $1
	`, executionID).Scan(
		&rec.ExecutionID, &accountID, &trialKey, &rec.Operation,
		&rec.ReservedAmount, &rec.Status, &rec.StartedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution record: %w", err)
	}
	rec.AccountID = accountID.String
	rec.TrialKey = trialKey.String
	if finishedAt.Valid {
		rec.FinishedAt = &finishedAt.Time
	}
	return &rec, nil
}

// ListTransactions lists an account's transactions, newest first
func (r *PostgresRepository) ListTransactions(ctx context.Context, accountID string, opts ListTransactionsOptions) ([]Transaction, error) {
	query := `
		SELECT transaction_id, account_id, kind, amount, balance_after, external_reference, created_at
		FROM transactions
		WHERE account_id = $1
	`
	args := []interface{}{accountID}

	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", len(args)+1)
		args = append(args, opts.Kind)
	}
	query += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
	args = append(args, limit)
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		var txn Transaction
		var extRef sql.NullString
		if err := rows.Scan(
			&txn.TransactionID, &txn.AccountID, &txn.Kind, &txn.Amount,
			&txn.BalanceAfter, &extRef, &txn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.ExternalReference = extRef.String
		transactions = append(transactions, txn)
	}
	return transactions, rows.Err()
}

// SumTransactions returns the sum of all transaction amounts for an
// account, used by the reconciliation sweep to verify the core invariant
// balance == sum(transactions.amount).
func (r *PostgresRepository) SumTransactions(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id = $1
	`, accountID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

// ListStaleReservations finds execution records stuck in reserved state
// since before the cutoff, oldest first.
func (r *PostgresRepository) ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT execution_id, account_id, trial_key, operation, reserved_amount, status, started_at, finished_at
		FROM execution_records
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at ASC
		LIMIT $3
	`, StatusReserved, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale reservations: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var accountID, trialKey sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(
			&rec.ExecutionID, &accountID, &trialKey, &rec.Operation,
			&rec.ReservedAmount, &rec.Status, &rec.StartedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		rec.AccountID = accountID.String
		rec.TrialKey = trialKey.String
		if finishedAt.Valid {
			rec.FinishedAt = &finishedAt.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
