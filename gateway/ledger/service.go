// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"axonflow/gate/gateway/opsalert"
	"axonflow/gate/shared/clock"
)

// Service provides the credit ledger operations used by the execution
// gate, the payment webhook processor, and the read API.
type Service struct {
	repo    Repository
	clock   clock.Clock
	ids     clock.IDGenerator
	alerter opsalert.Alerter
	logger  *log.Logger
}

// NewService creates a ledger service with default wiring.
func NewService(repo Repository) *Service {
	return NewServiceWithOptions(repo, nil, nil, nil, nil)
}

// NewServiceWithOptions creates a service with custom options
func NewServiceWithOptions(repo Repository, clk clock.Clock, ids clock.IDGenerator, alerter opsalert.Alerter, logger *log.Logger) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if ids == nil {
		ids = clock.UUIDGenerator{}
	}
	if logger == nil {
		logger = log.Default()
	}
	if alerter == nil {
		alerter = opsalert.NewLogAlerter(logger)
	}
	return &Service{repo: repo, clock: clk, ids: ids, alerter: alerter, logger: logger}
}

// CreateAccount provisions an account with a zero-balance credit account.
// An empty tier defaults to free; an empty ID is generated.
func (s *Service) CreateAccount(ctx context.Context, accountID, email string, tier Tier) (*Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email required", ErrInvalidInput)
	}
	if tier == "" {
		tier = TierFree
	}
	if !validTier(tier) {
		return nil, ErrInvalidTier
	}
	if accountID == "" {
		accountID = s.ids.NewID()
	}

	account := &Account{
		AccountID: accountID,
		Email:     email,
		Tier:      tier,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Printf("[Ledger] Created account %s (tier=%s)", account.AccountID, account.Tier)
	return account, nil
}

// GetAccount retrieves an account by ID
func (s *Service) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	return s.repo.GetAccount(ctx, accountID)
}

// GetAccountByEmail retrieves an account by email
func (s *Service) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.repo.GetAccountByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
}

// GetBalance returns the current balance view for an account.
func (s *Service) GetBalance(ctx context.Context, accountID string) (*BalanceStatus, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ca, err := s.repo.GetCreditAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &BalanceStatus{
		AccountID: account.AccountID,
		Tier:      account.Tier,
		Balance:   ca.Balance,
		UpdatedAt: ca.UpdatedAt,
	}, nil
}

// Reserve atomically debits the operation cost and returns the reserved
// execution record. Returns ErrInsufficientCredit without side effects
// when the balance cannot cover the amount.
func (s *Service) Reserve(ctx context.Context, accountID string, amount decimal.Decimal, operation string) (*ExecutionRecord, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if accountID == "" {
		return nil, fmt.Errorf("%w: account ID required", ErrInvalidInput)
	}

	rec := &ExecutionRecord{
		ExecutionID:    s.ids.NewID(),
		AccountID:      accountID,
		Operation:      operation,
		ReservedAmount: amount,
		Status:         StatusReserved,
		StartedAt:      s.clock.Now(),
	}
	if err := s.repo.Reserve(ctx, rec, s.ids.NewID()); err != nil {
		return nil, err
	}

	s.logger.Printf("[Ledger] Reserved %s for account %s (execution=%s, operation=%s)",
		amount.StringFixed(4), accountID, rec.ExecutionID, operation)
	return rec, nil
}

// BeginTrialExecution records a zero-amount execution for the free-trial
// path so trial and paid executions share one lifecycle.
func (s *Service) BeginTrialExecution(ctx context.Context, trialKey, operation string) (*ExecutionRecord, error) {
	if trialKey == "" {
		return nil, fmt.Errorf("%w: trial key required", ErrInvalidInput)
	}

	rec := &ExecutionRecord{
		ExecutionID: s.ids.NewID(),
		TrialKey:    trialKey,
		Operation:   operation,
		Status:      StatusReserved,
		StartedAt:   s.clock.Now(),
	}
	if err := s.repo.InsertTrialExecution(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Commit finalizes a successful execution. Idempotent; a commit arriving
// after a forced release is an integrity error and raises an ops alert.
func (s *Service) Commit(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	rec, err := s.repo.Commit(ctx, executionID, s.ids.NewID(), s.clock.Now())
	if err == ErrCommitAfterRelease {
		accountID := ""
		if rec != nil {
			accountID = rec.AccountID
		}
		s.integrityAlert(ctx, "commit_after_release", accountID,
			fmt.Sprintf("executor succeeded for already-released execution %s", executionID),
			map[string]interface{}{"execution_id": executionID})
		return rec, err
	}
	return rec, err
}

// Release refunds a reservation after executor failure or timeout; the
// caller is never charged for a failed execution. Idempotent.
func (s *Service) Release(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	rec, refunded, err := s.repo.Release(ctx, executionID, s.ids.NewID(), s.clock.Now())
	if err != nil {
		return nil, err
	}
	if refunded {
		s.logger.Printf("[Ledger] Released %s back to account %s (execution=%s)",
			rec.ReservedAmount.StringFixed(4), rec.AccountID, executionID)
	}
	return rec, nil
}

// Credit applies a payment top-up keyed by the provider's event ID.
// Redelivered events are no-ops; a redelivery with a different amount is
// surfaced to the operator queue and rejected.
func (s *Service) Credit(ctx context.Context, accountID string, amount decimal.Decimal, externalReference string) (bool, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return false, ErrInvalidAmount
	}
	if externalReference == "" {
		return false, ErrMissingExternalReference
	}

	applied, err := s.repo.Credit(ctx, accountID, s.ids.NewID(), amount, externalReference, s.clock.Now())
	if err == ErrCreditAmountMismatch {
		s.integrityAlert(ctx, "credit_amount_mismatch", accountID,
			fmt.Sprintf("duplicate delivery of %s with amount %s does not match the recorded credit",
				externalReference, amount.StringFixed(4)),
			map[string]interface{}{"external_reference": externalReference, "amount": amount.String()})
		return false, err
	}
	if err != nil {
		return false, err
	}

	if applied {
		s.logger.Printf("[Ledger] Credited %s to account %s (reference=%s)",
			amount.StringFixed(4), accountID, externalReference)
	} else {
		s.logger.Printf("[Ledger] Ignored duplicate credit for account %s (reference=%s)", accountID, externalReference)
	}
	return applied, nil
}

// GetExecution retrieves an execution record by ID
func (s *Service) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	return s.repo.GetExecution(ctx, executionID)
}

// ListTransactions lists an account's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID string, opts ListTransactionsOptions) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, accountID, opts)
}

// ListStaleReservations finds reservations stuck past the cutoff, used
// by the reconciliation sweep.
func (s *Service) ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]ExecutionRecord, error) {
	return s.repo.ListStaleReservations(ctx, olderThan, limit)
}

// VerifyBalanceInvariant checks balance == sum(transactions.amount) for
// an account. A violation is an integrity error: it is alerted, never
// exposed to end users.
func (s *Service) VerifyBalanceInvariant(ctx context.Context, accountID string) (bool, error) {
	ca, err := s.repo.GetCreditAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	sum, err := s.repo.SumTransactions(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !ca.Balance.Equal(sum) {
		s.integrityAlert(ctx, "balance_invariant_violation", accountID,
			fmt.Sprintf("balance %s does not equal transaction sum %s", ca.Balance.StringFixed(4), sum.StringFixed(4)),
			map[string]interface{}{"balance": ca.Balance.String(), "transaction_sum": sum.String()})
		return false, nil
	}
	return true, nil
}

// IsHealthy checks if the backing store is reachable
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.repo.Ping(ctx) == nil
}

func (s *Service) integrityAlert(ctx context.Context, kind, accountID, message string, fields map[string]interface{}) {
	s.logger.Printf("[Ledger] INTEGRITY %s account=%s: %s", kind, accountID, message)
	if err := s.alerter.Publish(ctx, opsalert.Event{
		Kind:      kind,
		Severity:  opsalert.SeverityCritical,
		AccountID: accountID,
		Message:   message,
		Fields:    fields,
		Timestamp: s.clock.Now(),
	}); err != nil {
		s.logger.Printf("[Ledger] Failed to publish integrity alert: %v", err)
	}
}
