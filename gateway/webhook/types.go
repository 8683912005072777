// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventPaymentSucceeded is the only event type that moves money.
const EventPaymentSucceeded = "payment.succeeded"

// Event is the payment provider's delivery payload.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData carries the payment details.
type EventData struct {
	AccountID     string          `json:"account_id,omitempty"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
}

// ReconciliationEntry is a payment parked for manual resolution.
type ReconciliationEntry struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Payload    string    `json:"payload"`
	Reason     string    `json:"reason"`
	ReceivedAt time.Time `json:"received_at"`
	Resolved   bool      `json:"resolved"`
}
