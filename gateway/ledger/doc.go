// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package ledger provides the authoritative credit ledger for the AxonFlow
Gate: per-account balances, an append-only transaction log, and the
execution record lifecycle.

# Model

Every balance change is recorded as a Transaction (reservation, commit,
release, or credit); the sum of a given account's transaction amounts
always equals its current balance, and balances can never go negative.
Money is fixed-point decimal end to end - no floats.

# Operations

  - Reserve: atomic balance check + debit, creating a reserved
    ExecutionRecord. Uses optimistic versioning so two concurrent
    reservations against the same balance can never both succeed.
  - Commit: reserved -> committed, no balance change (the debit happened
    at reserve time). Idempotent.
  - Release: refunds the reserved amount and marks the record released.
    Idempotent; releasing a committed record is a no-op.
  - Credit: webhook-driven top-up keyed by an external reference.
    Redelivered references are no-ops; a redelivery with a different
    amount is an integrity error surfaced to the ops alerter.

# Storage

PostgreSQL is the single source of truth. The schema enforces
balance >= 0 with a CHECK constraint and credit idempotency with a
unique (account_id, external_reference) index, so the invariants hold
even against bugs above the repository layer.
*/
package ledger
