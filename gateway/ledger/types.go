// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier mirrors the account pricing tiers used by the rate limiter.
type Tier string

const (
	TierFree     Tier = "free"
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierElite    Tier = "elite"
	TierBYOK     Tier = "byok"
)

// Account is an identity owning a credit balance. Immutable after
// creation except for the tier.
type Account struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

// CreditAccount is the 1:1 balance row for an account. Mutated only
// through ledger operations, never written directly.
type CreditAccount struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransactionKind classifies a balance change.
type TransactionKind string

const (
	KindReservation TransactionKind = "reservation"
	KindCommit      TransactionKind = "commit"
	KindRelease     TransactionKind = "release"
	KindCredit      TransactionKind = "credit"
)

// Transaction is one append-only row in the ledger. Never updated or
// deleted; the transaction ID doubles as an idempotency key.
type Transaction struct {
	TransactionID     string          `json:"transaction_id"`
	AccountID         string          `json:"account_id"`
	Kind              TransactionKind `json:"kind"`
	Amount            decimal.Decimal `json:"amount"`
	BalanceAfter      decimal.Decimal `json:"balance_after"`
	ExternalReference string          `json:"external_reference,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ExecutionStatus is the lifecycle state of an admitted execution.
type ExecutionStatus string

const (
	StatusReserved  ExecutionStatus = "reserved"
	StatusCommitted ExecutionStatus = "committed"
	StatusReleased  ExecutionStatus = "released"
)

// ExecutionRecord tracks one admitted execution attempt, from reservation
// to its single terminal transition. Account executions carry the
// reserved amount; trial executions carry a trial key and a zero amount.
type ExecutionRecord struct {
	ExecutionID    string          `json:"execution_id"`
	AccountID      string          `json:"account_id,omitempty"`
	TrialKey       string          `json:"trial_key,omitempty"`
	Operation      string          `json:"operation"`
	ReservedAmount decimal.Decimal `json:"reserved_amount"`
	Status         ExecutionStatus `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// IsTrial reports whether this record belongs to the free-trial path.
func (r *ExecutionRecord) IsTrial() bool {
	return r.TrialKey != ""
}

// BalanceStatus is the read-API view of an account's balance.
type BalanceStatus struct {
	AccountID string          `json:"account_id"`
	Tier      Tier            `json:"tier"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ListTransactionsOptions filters transaction queries.
type ListTransactionsOptions struct {
	Kind   TransactionKind `json:"kind,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

func validTier(t Tier) bool {
	switch t {
	case TierFree, TierBasic, TierStandard, TierPremium, TierElite, TierBYOK:
		return true
	}
	return false
}
