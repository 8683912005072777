// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"axonflow/gate/gateway/opsalert"
)

// recordingAlerter captures published events for assertions.
type recordingAlerter struct {
	mu     sync.Mutex
	events []opsalert.Event
}

func (a *recordingAlerter) Publish(ctx context.Context, event opsalert.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

// MockRepository implements Repository in memory for testing. It
// preserves the store-level atomicity guarantees (single lock around
// every money operation) so concurrency tests exercise real contention.
type MockRepository struct {
	mu sync.Mutex

	accounts   map[string]*Account
	balances   map[string]*CreditAccount
	txns       []Transaction
	executions map[string]*ExecutionRecord

	// Error injection
	reserveErr error
	creditErr  error
	pingErr    error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		accounts:   make(map[string]*Account),
		balances:   make(map[string]*CreditAccount),
		executions: make(map[string]*ExecutionRecord),
	}
}

// seedAccount creates an account with the given balance, bypassing the
// service layer.
func (m *MockRepository) seedAccount(accountID string, tier Tier, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.accounts[accountID] = &Account{AccountID: accountID, Email: accountID + "@example.com", Tier: tier, CreatedAt: now}
	m.balances[accountID] = &CreditAccount{AccountID: accountID, Balance: balance, UpdatedAt: now}
	if !balance.IsZero() {
		m.txns = append(m.txns, Transaction{
			TransactionID: "seed-" + accountID,
			AccountID:     accountID,
			Kind:          KindCredit,
			Amount:        balance,
			BalanceAfter:  balance,
			CreatedAt:     now,
		})
	}
}

func (m *MockRepository) CreateAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[account.AccountID]; exists {
		return ErrAccountExists
	}
	for _, a := range m.accounts {
		if a.Email == account.Email {
			return ErrAccountExists
		}
	}
	m.accounts[account.AccountID] = account
	m.balances[account.AccountID] = &CreditAccount{AccountID: account.AccountID, Balance: decimal.Zero, UpdatedAt: account.CreatedAt}
	return nil
}

func (m *MockRepository) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if account, ok := m.accounts[accountID]; ok {
		return account, nil
	}
	return nil, ErrAccountNotFound
}

func (m *MockRepository) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, account := range m.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MockRepository) GetCreditAccount(ctx context.Context, accountID string) (*CreditAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ca, ok := m.balances[accountID]; ok {
		copied := *ca
		return &copied, nil
	}
	return nil, ErrAccountNotFound
}

func (m *MockRepository) Reserve(ctx context.Context, rec *ExecutionRecord, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reserveErr != nil {
		return m.reserveErr
	}
	ca, ok := m.balances[rec.AccountID]
	if !ok {
		return ErrAccountNotFound
	}
	if ca.Balance.LessThan(rec.ReservedAmount) {
		return ErrInsufficientCredit
	}
	ca.Balance = ca.Balance.Sub(rec.ReservedAmount)
	ca.Version++
	m.txns = append(m.txns, Transaction{
		TransactionID: transactionID,
		AccountID:     rec.AccountID,
		Kind:          KindReservation,
		Amount:        rec.ReservedAmount.Neg(),
		BalanceAfter:  ca.Balance,
		CreatedAt:     rec.StartedAt,
	})
	stored := *rec
	m.executions[rec.ExecutionID] = &stored
	return nil
}

func (m *MockRepository) InsertTrialExecution(ctx context.Context, rec *ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *rec
	stored.ReservedAmount = decimal.Zero
	m.executions[rec.ExecutionID] = &stored
	return nil
}

func (m *MockRepository) Commit(ctx context.Context, executionID, transactionID string, finishedAt time.Time) (*ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.executions[executionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	switch rec.Status {
	case StatusReleased:
		copied := *rec
		return &copied, ErrCommitAfterRelease
	case StatusCommitted:
		copied := *rec
		return &copied, nil
	}
	rec.Status = StatusCommitted
	rec.FinishedAt = &finishedAt
	if rec.AccountID != "" {
		m.txns = append(m.txns, Transaction{
			TransactionID: transactionID,
			AccountID:     rec.AccountID,
			Kind:          KindCommit,
			Amount:        decimal.Zero,
			BalanceAfter:  m.balances[rec.AccountID].Balance,
			CreatedAt:     finishedAt,
		})
	}
	copied := *rec
	return &copied, nil
}

func (m *MockRepository) Release(ctx context.Context, executionID, transactionID string, finishedAt time.Time) (*ExecutionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.executions[executionID]
	if !ok {
		return nil, false, ErrExecutionNotFound
	}
	if rec.Status != StatusReserved {
		copied := *rec
		return &copied, false, nil
	}
	rec.Status = StatusReleased
	rec.FinishedAt = &finishedAt

	if rec.AccountID == "" || rec.ReservedAmount.IsZero() {
		copied := *rec
		return &copied, false, nil
	}

	ca := m.balances[rec.AccountID]
	ca.Balance = ca.Balance.Add(rec.ReservedAmount)
	ca.Version++
	m.txns = append(m.txns, Transaction{
		TransactionID: transactionID,
		AccountID:     rec.AccountID,
		Kind:          KindRelease,
		Amount:        rec.ReservedAmount,
		BalanceAfter:  ca.Balance,
		CreatedAt:     finishedAt,
	})
	copied := *rec
	return &copied, true, nil
}

func (m *MockRepository) Credit(ctx context.Context, accountID, transactionID string, amount decimal.Decimal, externalReference string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.creditErr != nil {
		return false, m.creditErr
	}
	for _, txn := range m.txns {
		if txn.AccountID == accountID && txn.ExternalReference == externalReference {
			if !txn.Amount.Equal(amount) {
				return false, ErrCreditAmountMismatch
			}
			return false, nil
		}
	}
	ca, ok := m.balances[accountID]
	if !ok {
		return false, ErrAccountNotFound
	}
	ca.Balance = ca.Balance.Add(amount)
	ca.Version++
	m.txns = append(m.txns, Transaction{
		TransactionID:     transactionID,
		AccountID:         accountID,
		Kind:              KindCredit,
		Amount:            amount,
		BalanceAfter:      ca.Balance,
		ExternalReference: externalReference,
		CreatedAt:         now,
	})
	return true, nil
}

func (m *MockRepository) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.executions[executionID]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, ErrExecutionNotFound
}

func (m *MockRepository) ListTransactions(ctx context.Context, accountID string, opts ListTransactionsOptions) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Transaction
	for i := len(m.txns) - 1; i >= 0; i-- {
		txn := m.txns[i]
		if txn.AccountID != accountID {
			continue
		}
		if opts.Kind != "" && txn.Kind != opts.Kind {
			continue
		}
		result = append(result, txn)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

func (m *MockRepository) SumTransactions(ctx context.Context, accountID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := decimal.Zero
	for _, txn := range m.txns {
		if txn.AccountID == accountID {
			sum = sum.Add(txn.Amount)
		}
	}
	return sum, nil
}

func (m *MockRepository) ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []ExecutionRecord
	for _, rec := range m.executions {
		if rec.Status == StatusReserved && rec.StartedAt.Before(olderThan) {
			result = append(result, *rec)
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MockRepository) Ping(ctx context.Context) error {
	return m.pingErr
}

// balanceOf returns the current balance for assertions.
func (m *MockRepository) balanceOf(accountID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID].Balance
}

// creditTransactionsFor counts credit rows with the given reference.
func (m *MockRepository) creditTransactionsFor(accountID, externalReference string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, txn := range m.txns {
		if txn.AccountID == accountID && txn.ExternalReference == externalReference {
			count++
		}
	}
	return count
}
