// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for ledger persistence. Every method
// that changes money is a single atomic operation at the store level.
type Repository interface {
	// Account operations
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetCreditAccount(ctx context.Context, accountID string) (*CreditAccount, error)

	// Money operations
	Reserve(ctx context.Context, rec *ExecutionRecord, transactionID string) error
	InsertTrialExecution(ctx context.Context, rec *ExecutionRecord) error
	Commit(ctx context.Context, executionID, transactionID string, finishedAt time.Time) (*ExecutionRecord, error)
	Release(ctx context.Context, executionID, transactionID string, finishedAt time.Time) (*ExecutionRecord, bool, error)
	Credit(ctx context.Context, accountID, transactionID string, amount decimal.Decimal, externalReference string, now time.Time) (bool, error)

	// Queries
	GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error)
	ListTransactions(ctx context.Context, accountID string, opts ListTransactionsOptions) ([]Transaction, error)
	SumTransactions(ctx context.Context, accountID string) (decimal.Decimal, error)
	ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]ExecutionRecord, error)

	// Utility
	Ping(ctx context.Context) error
}
