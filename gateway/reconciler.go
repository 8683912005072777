// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"log"
	"time"

	"axonflow/gate/gateway/ledger"
	"axonflow/gate/gateway/opsalert"
	"axonflow/gate/shared/clock"
)

// sweepBatchSize caps reservations handled per sweep.
const sweepBatchSize = 100

// Reconciler force-releases reservations stuck in reserved state past
// the staleness threshold. A reservation can get stuck when the process
// dies between the executor call and finalization; releasing it refunds
// the caller, which is the safe direction to err in.
type Reconciler struct {
	ledger     *ledger.Service
	alerter    opsalert.Alerter
	clock      clock.Clock
	logger     *log.Logger
	interval   time.Duration
	staleAfter time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewReconciler creates the background sweep.
func NewReconciler(ledgerSvc *ledger.Service, alerter opsalert.Alerter, clk clock.Clock, logger *log.Logger, interval, staleAfter time.Duration) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	if alerter == nil {
		alerter = opsalert.NewLogAlerter(logger)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Reconciler{
		ledger:     ledgerSvc,
		alerter:    alerter,
		clock:      clk,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (r *Reconciler) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Printf("[Reconciler] Started (interval=%s, stale_after=%s)", r.interval, r.staleAfter)
		for {
			select {
			case <-ticker.C:
				if count, err := r.SweepOnce(context.Background()); err != nil {
					r.logger.Printf("[Reconciler] Sweep failed: %v", err)
				} else if count > 0 {
					r.logger.Printf("[Reconciler] Force-released %d stale reservations", count)
				}
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for it to exit.
func (r *Reconciler) Stop() {
	close(r.stop)
	<-r.done
}

// SweepOnce finds and force-releases stale reservations. Returns the
// number released.
func (r *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().UTC().Add(-r.staleAfter)
	stale, err := r.ledger.ListStaleReservations(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, rec := range stale {
		if _, err := r.ledger.Release(ctx, rec.ExecutionID); err != nil {
			r.logger.Printf("[Reconciler] Failed to release stale execution %s: %v", rec.ExecutionID, err)
			continue
		}
		released++
		promReservations.WithLabelValues("force_released").Inc()
		r.logger.Printf("[Reconciler] CRITICAL: force-released orphaned execution %s (operation=%s, reserved=%s, started=%s)",
			rec.ExecutionID, rec.Operation, rec.ReservedAmount.StringFixed(4), rec.StartedAt.Format(time.RFC3339))

		if err := r.alerter.Publish(ctx, opsalert.Event{
			Kind:      "reservation_force_released",
			Severity:  opsalert.SeverityCritical,
			AccountID: rec.AccountID,
			Message:   "orphaned reservation force-released by reconciliation sweep",
			Timestamp: r.clock.Now().UTC(),
			Fields: map[string]interface{}{
				"execution_id":    rec.ExecutionID,
				"operation":       rec.Operation,
				"reserved_amount": rec.ReservedAmount.String(),
				"started_at":      rec.StartedAt.Format(time.RFC3339),
			},
		}); err != nil {
			r.logger.Printf("[Reconciler] Failed to publish alert for execution %s: %v", rec.ExecutionID, err)
		}
	}
	return released, nil
}
