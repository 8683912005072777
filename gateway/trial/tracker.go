// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package trial

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"axonflow/gate/shared/clock"
)

// DefaultQuota is the number of free executions per fingerprint+IP pair.
const DefaultQuota = 3

var (
	// ErrTrialExhausted means the caller has used all free executions.
	ErrTrialExhausted = errors.New("free trial exhausted")

	// ErrMissingIdentity means fingerprint or IP was empty.
	ErrMissingIdentity = errors.New("fingerprint and ip are required")
)

// Store persists trial usage records.
type Store interface {
	// EnsureRecord creates the record for the pair if it does not exist.
	EnsureRecord(ctx context.Context, fingerprint, ip string, quota int, now time.Time) error

	// ConsumeQuery increments queries_used if the quota allows it and
	// returns the remaining count. The increment and the quota check
	// happen in one atomic statement; ok is false when the quota is
	// already spent.
	ConsumeQuery(ctx context.Context, fingerprint, ip string, now time.Time) (remaining int, ok bool, err error)

	// GetRecord returns the current usage for the pair, or nil if the
	// pair has never been seen.
	GetRecord(ctx context.Context, fingerprint, ip string) (*Record, error)
}

// Record is one fingerprint+IP trial entry.
type Record struct {
	Fingerprint string    `json:"fingerprint"`
	IP          string    `json:"ip"`
	QueriesUsed int       `json:"queries_used"`
	Quota       int       `json:"quota"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Remaining returns the number of unused trial executions.
func (r *Record) Remaining() int {
	if left := r.Quota - r.QueriesUsed; left > 0 {
		return left
	}
	return 0
}

// Tracker enforces the free-trial quota.
type Tracker struct {
	store  Store
	quota  int
	clock  clock.Clock
	logger *log.Logger
}

// NewTracker creates a tracker with the default quota.
func NewTracker(store Store) *Tracker {
	return NewTrackerWithOptions(store, DefaultQuota, clock.RealClock{}, nil)
}

// NewTrackerWithOptions creates a tracker with explicit collaborators.
func NewTrackerWithOptions(store Store, quota int, clk clock.Clock, logger *log.Logger) *Tracker {
	if quota <= 0 {
		quota = DefaultQuota
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{store: store, quota: quota, clock: clk, logger: logger}
}

// CheckAndConsume spends one trial execution for the pair. It returns
// the remaining count after consumption, or ErrTrialExhausted when the
// quota is spent. The first call for a pair creates its record.
func (t *Tracker) CheckAndConsume(ctx context.Context, fingerprint, ip string) (int, error) {
	if fingerprint == "" || ip == "" {
		return 0, ErrMissingIdentity
	}

	now := t.clock.Now().UTC()
	if err := t.store.EnsureRecord(ctx, fingerprint, ip, t.quota, now); err != nil {
		return 0, fmt.Errorf("failed to ensure trial record: %w", err)
	}

	remaining, ok, err := t.store.ConsumeQuery(ctx, fingerprint, ip, now)
	if err != nil {
		return 0, fmt.Errorf("failed to consume trial query: %w", err)
	}
	if !ok {
		t.logger.Printf("[Trial] Quota exhausted for fingerprint=%s ip=%s", fingerprint, ip)
		return 0, ErrTrialExhausted
	}
	return remaining, nil
}

// Status reports usage for the pair without consuming anything. Unknown
// pairs report a full quota.
func (t *Tracker) Status(ctx context.Context, fingerprint, ip string) (*Record, error) {
	if fingerprint == "" || ip == "" {
		return nil, ErrMissingIdentity
	}
	rec, err := t.store.GetRecord(ctx, fingerprint, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to get trial record: %w", err)
	}
	if rec == nil {
		return &Record{Fingerprint: fingerprint, IP: ip, Quota: t.quota}, nil
	}
	return rec, nil
}
