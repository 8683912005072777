// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import "errors"

var (
	// ErrAccountNotFound is returned when an account does not exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account that already exists
	ErrAccountExists = errors.New("account already exists")

	// ErrExecutionNotFound is returned when an execution record does not exist
	ErrExecutionNotFound = errors.New("execution record not found")

	// ErrInsufficientCredit is returned when a reservation exceeds the balance
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrInvalidAmount is returned for zero or negative amounts
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidTier is returned for an unknown account tier
	ErrInvalidTier = errors.New("invalid account tier")

	// ErrMissingExternalReference is returned when a credit has no idempotency key
	ErrMissingExternalReference = errors.New("external reference required")

	// ErrCreditAmountMismatch is an integrity error: a duplicate external
	// reference arrived with a different amount than the recorded credit
	ErrCreditAmountMismatch = errors.New("duplicate credit with mismatched amount")

	// ErrCommitAfterRelease is an integrity error: the executor reported
	// success for an execution that was already force-released
	ErrCommitAfterRelease = errors.New("execution already released")

	// ErrVersionConflict is returned when optimistic retries are exhausted
	ErrVersionConflict = errors.New("concurrent balance update conflict")

	// ErrInvalidInput is returned for general invalid input
	ErrInvalidInput = errors.New("invalid input")
)
