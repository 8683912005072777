// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package trial

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL trial store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the free_trial_records table if it does not exist
func (s *PostgresStore) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS free_trial_records (
			fingerprint TEXT NOT NULL,
			ip TEXT NOT NULL,
			queries_used INTEGER NOT NULL DEFAULT 0,
			quota INTEGER NOT NULL,
			first_seen_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (fingerprint, ip)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create free_trial_records table: %w", err)
	}
	return nil
}

// EnsureRecord inserts the record for the pair if it is new. ON CONFLICT
// DO NOTHING keeps the existing quota and counters untouched.
func (s *PostgresStore) EnsureRecord(ctx context.Context, fingerprint, ip string, quota int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO free_trial_records (fingerprint, ip, queries_used, quota, first_seen_at, last_seen_at)
		VALUES ($1, $2, 0, $3, $4, $4)
		ON CONFLICT (fingerprint, ip) DO NOTHING
	`, fingerprint, ip, quota, now)
	if err != nil {
		return fmt.Errorf("failed to insert trial record: %w", err)
	}
	return nil
}

// ConsumeQuery spends one trial execution. The quota check and the
// increment are a single UPDATE so two concurrent calls can never both
// spend the last slot.
func (s *PostgresStore) ConsumeQuery(ctx context.Context, fingerprint, ip string, now time.Time) (int, bool, error) {
	var used, quota int
	err := s.db.QueryRowContext(ctx, `
		UPDATE free_trial_records
		SET queries_used = queries_used + 1, last_seen_at = $3
		WHERE fingerprint = $1 AND ip = $2 AND queries_used < quota
		RETURNING queries_used, quota
	`, fingerprint, ip, now).Scan(&used, &quota)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to consume trial query: %w", err)
	}
	return quota - used, true, nil
}

// GetRecord returns the pair's record, or nil when never seen
func (s *PostgresStore) GetRecord(ctx context.Context, fingerprint, ip string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, ip, queries_used, quota, first_seen_at, last_seen_at
		FROM free_trial_records
		WHERE fingerprint = $1 AND ip = $2
	`, fingerprint, ip).Scan(
		&rec.Fingerprint, &rec.IP, &rec.QueriesUsed, &rec.Quota, &rec.FirstSeenAt, &rec.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trial record: %w", err)
	}
	return &rec, nil
}
