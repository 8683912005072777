// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"axonflow/gate/gateway/ledger"
	"axonflow/gate/gateway/opsalert"
	"axonflow/gate/shared/clock"
)

// maxBodyBytes bounds webhook payload size.
const maxBodyBytes = 1 << 20

// Prometheus metrics for webhook processing
var promWebhookEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "axonflow_gate_webhook_events_total",
		Help: "Total number of webhook deliveries by result",
	},
	[]string{"event_type", "result"},
)

func init() {
	prometheus.MustRegister(promWebhookEvents)
}

// CreditService is the slice of the ledger the processor needs.
type CreditService interface {
	GetAccount(ctx context.Context, accountID string) (*ledger.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*ledger.Account, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, externalReference string) (bool, error)
}

// Processor verifies and applies payment provider webhooks.
type Processor struct {
	secret  []byte
	credits CreditService
	parking ReconciliationStore
	alerter opsalert.Alerter
	clock   clock.Clock
	logger  *log.Logger
}

// NewProcessor creates a webhook processor.
func NewProcessor(secret []byte, credits CreditService, parking ReconciliationStore) *Processor {
	return NewProcessorWithOptions(secret, credits, parking, nil, clock.RealClock{}, nil)
}

// NewProcessorWithOptions creates a processor with explicit collaborators.
func NewProcessorWithOptions(secret []byte, credits CreditService, parking ReconciliationStore, alerter opsalert.Alerter, clk clock.Clock, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	if alerter == nil {
		alerter = opsalert.NewLogAlerter(logger)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Processor{
		secret:  secret,
		credits: credits,
		parking: parking,
		alerter: alerter,
		clock:   clk,
		logger:  logger,
	}
}

// RegisterRoutes registers the webhook endpoint with a gorilla/mux router
func (p *Processor) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/webhooks/payment", p.Handle).Methods("POST")
}

// Handle processes one webhook delivery. The signature is checked over
// the raw body before anything is parsed; an invalid signature has zero
// side effects. Unresolvable payments are parked, never dropped.
func (p *Processor) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		p.respond(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !VerifySignature(p.secret, body, r.Header.Get(SignatureHeader)) {
		promWebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		p.respond(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" {
		promWebhookEvents.WithLabelValues("unknown", "malformed").Inc()
		p.respond(w, http.StatusBadRequest, "malformed event")
		return
	}

	if event.Type != EventPaymentSucceeded {
		// Acknowledged so the provider stops redelivering.
		promWebhookEvents.WithLabelValues(event.Type, "ignored").Inc()
		p.respond(w, http.StatusOK, "ignored")
		return
	}

	account, err := p.resolveAccount(r.Context(), event)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			p.park(r.Context(), &event, body, "account not found")
			promWebhookEvents.WithLabelValues(event.Type, "parked").Inc()
			p.respond(w, http.StatusAccepted, "queued for reconciliation")
			return
		}
		p.logger.Printf("[Webhook] Account lookup failed for event %s: %v", event.ID, err)
		p.respond(w, http.StatusInternalServerError, "account lookup failed")
		return
	}

	applied, err := p.credits.Credit(r.Context(), account.AccountID, event.Data.Amount, event.ID)
	if err != nil {
		if errors.Is(err, ledger.ErrCreditAmountMismatch) {
			// The ledger already alerted; park the delivery for an operator.
			p.park(r.Context(), &event, body, "amount mismatch with recorded credit")
			promWebhookEvents.WithLabelValues(event.Type, "mismatch").Inc()
			p.respond(w, http.StatusAccepted, "queued for reconciliation")
			return
		}
		p.logger.Printf("[Webhook] Credit failed for event %s: %v", event.ID, err)
		p.respond(w, http.StatusInternalServerError, "credit failed")
		return
	}

	if applied {
		p.logger.Printf("[Webhook] Credited %s to account %s (event %s)",
			event.Data.Amount.StringFixed(4), account.AccountID, event.ID)
		promWebhookEvents.WithLabelValues(event.Type, "applied").Inc()
	} else {
		promWebhookEvents.WithLabelValues(event.Type, "duplicate").Inc()
	}
	p.respond(w, http.StatusOK, "ok")
}

func (p *Processor) resolveAccount(ctx context.Context, event Event) (*ledger.Account, error) {
	if event.Data.AccountID != "" {
		account, err := p.credits.GetAccount(ctx, event.Data.AccountID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, err
		}
		// Fall through to the email lookup.
	}
	if event.Data.CustomerEmail != "" {
		return p.credits.GetAccountByEmail(ctx, event.Data.CustomerEmail)
	}
	return nil, ledger.ErrAccountNotFound
}

func (p *Processor) park(ctx context.Context, event *Event, body []byte, reason string) {
	entry := &ReconciliationEntry{
		EventID:    event.ID,
		EventType:  event.Type,
		Payload:    string(body),
		Reason:     reason,
		ReceivedAt: p.clock.Now().UTC(),
	}
	if err := p.parking.Park(ctx, entry); err != nil {
		// The 202 still goes out; the provider will redeliver.
		p.logger.Printf("[Webhook] Failed to park event %s: %v", event.ID, err)
		return
	}
	p.logger.Printf("[Webhook] Parked event %s for reconciliation: %s", event.ID, reason)
	if err := p.alerter.Publish(ctx, opsalert.Event{
		Kind:      "webhook_parked",
		Severity:  opsalert.SeverityWarning,
		Message:   "payment event queued for manual reconciliation",
		Timestamp: p.clock.Now().UTC(),
		Fields: map[string]interface{}{
			"event_id": event.ID,
			"reason":   reason,
		},
	}); err != nil {
		p.logger.Printf("[Webhook] Failed to publish parked alert for event %s: %v", event.ID, err)
	}
}

func (p *Processor) respond(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": message})
}
