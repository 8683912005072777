// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"context"
	"database/sql"
	"fmt"
)

// ReconciliationStore parks payments that could not be applied.
type ReconciliationStore interface {
	// Park stores the event for manual resolution. Parking the same
	// event twice is a no-op.
	Park(ctx context.Context, entry *ReconciliationEntry) error

	// ListUnresolved returns parked entries awaiting an operator.
	ListUnresolved(ctx context.Context, limit int) ([]ReconciliationEntry, error)

	// Resolve marks an entry as handled.
	Resolve(ctx context.Context, eventID string) error
}

// PostgresReconciliationStore implements ReconciliationStore using PostgreSQL
type PostgresReconciliationStore struct {
	db *sql.DB
}

// NewPostgresReconciliationStore creates a new reconciliation store
func NewPostgresReconciliationStore(db *sql.DB) *PostgresReconciliationStore {
	return &PostgresReconciliationStore{db: db}
}

// EnsureSchema creates the webhook_reconciliation table if it does not exist
func (s *PostgresReconciliationStore) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_reconciliation (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			reason TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create webhook_reconciliation table: %w", err)
	}
	return nil
}

// Park stores the event; the unique event_id absorbs redeliveries.
func (s *PostgresReconciliationStore) Park(ctx context.Context, entry *ReconciliationEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_reconciliation (event_id, event_type, payload, reason, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, entry.EventID, entry.EventType, entry.Payload, entry.Reason, entry.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to park webhook event: %w", err)
	}
	return nil
}

// ListUnresolved returns parked entries, oldest first
func (s *PostgresReconciliationStore) ListUnresolved(ctx context.Context, limit int) ([]ReconciliationEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, event_type, payload, reason, received_at, resolved
		FROM webhook_reconciliation
		WHERE NOT resolved
		ORDER BY received_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation entries: %w", err)
	}
	defer rows.Close()

	var entries []ReconciliationEntry
	for rows.Next() {
		var entry ReconciliationEntry
		if err := rows.Scan(
			&entry.ID, &entry.EventID, &entry.EventType, &entry.Payload,
			&entry.Reason, &entry.ReceivedAt, &entry.Resolved,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Resolve marks the entry as handled
func (s *PostgresReconciliationStore) Resolve(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_reconciliation SET resolved = TRUE WHERE event_id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation entry: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("reconciliation entry not found: %s", eventID)
	}
	return nil
}
