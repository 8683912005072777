// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"axonflow/gate/gateway/ledger"
	"axonflow/gate/gateway/ratelimit"
	"axonflow/gate/gateway/trial"
)

// Outcome classifies how a request left the gate.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeTrialExhausted     Outcome = "trial_exhausted"
	OutcomeInsufficientCredit Outcome = "insufficient_credit"
	OutcomeExecutionFailed    Outcome = "execution_failed"
	OutcomeExecutionTimeout   Outcome = "execution_timeout"
	OutcomeInternalError      Outcome = "internal_error"
)

// ExecuteRequest is one admitted-or-rejected execution attempt.
type ExecuteRequest struct {
	Identity  Identity
	Operation string
	Input     json.RawMessage
}

// ExecuteResponse carries everything the HTTP layer needs to answer.
type ExecuteResponse struct {
	Outcome  Outcome
	Decision ratelimit.Decision

	// ExecutionID is set once a reservation or trial record exists.
	ExecutionID string

	// Result is set on success.
	Result *Result

	// RemainingCredits is set on OutcomeInsufficientCredit.
	RemainingCredits decimal.Decimal

	// TrialRemaining is set on the trial path after consumption.
	TrialRemaining int
}

// Gate drives the per-request admission state machine.
type Gate struct {
	limiter  *ratelimit.Limiter
	trials   *trial.Tracker
	ledger   *ledger.Service
	executor AgentExecutor
	costs    *CostTable
	logger   *log.Logger
}

// NewGate wires the gate's collaborators.
func NewGate(limiter *ratelimit.Limiter, trials *trial.Tracker, ledgerSvc *ledger.Service, executor AgentExecutor, costs *CostTable, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.Default()
	}
	return &Gate{
		limiter:  limiter,
		trials:   trials,
		ledger:   ledgerSvc,
		executor: executor,
		costs:    costs,
		logger:   logger,
	}
}

// Execute runs one request through rate limiting, admission, the agent
// executor, and finalization. A reservation is always driven to a
// terminal state: commit on executor success, release on anything else.
func (g *Gate) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	resp := &ExecuteResponse{}

	decision, err := g.limiter.Check(ctx, req.Identity.RateLimitKey(), req.Identity.RateLimitTier())
	if err != nil {
		// The limiter fails open internally; an error here is a
		// programming error, not a store outage.
		resp.Outcome = OutcomeInternalError
		promAdmissions.WithLabelValues(req.Operation, string(resp.Outcome)).Inc()
		return resp, fmt.Errorf("rate limit check failed: %w", err)
	}
	resp.Decision = *decision
	if !decision.Allowed {
		resp.Outcome = OutcomeRateLimited
		promAdmissions.WithLabelValues(req.Operation, string(resp.Outcome)).Inc()
		return resp, nil
	}

	rec, admitErr := g.admit(ctx, req, resp)
	if admitErr != nil {
		promAdmissions.WithLabelValues(req.Operation, string(resp.Outcome)).Inc()
		if resp.Outcome == OutcomeInternalError {
			return resp, admitErr
		}
		return resp, nil
	}
	resp.ExecutionID = rec.ExecutionID

	result, runErr := g.executor.Run(ctx, req.Operation, req.Input)

	// Finalization must survive a client disconnect: a canceled request
	// context would otherwise orphan the reservation.
	finalizeCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		g.release(finalizeCtx, rec.ExecutionID)
		if errors.Is(runErr, ErrExecutorTimeout) {
			resp.Outcome = OutcomeExecutionTimeout
		} else {
			resp.Outcome = OutcomeExecutionFailed
		}
		g.logger.Printf("[Gate] Execution %s failed (%s): %v", rec.ExecutionID, req.Operation, runErr)
		promAdmissions.WithLabelValues(req.Operation, string(resp.Outcome)).Inc()
		return resp, nil
	}

	if _, err := g.ledger.Commit(finalizeCtx, rec.ExecutionID); err != nil {
		// The caller got a result, so we answer success; the stuck
		// reservation is the reconciler's problem now.
		g.logger.Printf("[Gate] Failed to commit execution %s: %v", rec.ExecutionID, err)
	} else {
		promReservations.WithLabelValues("committed").Inc()
	}

	promExecutorDuration.WithLabelValues(req.Operation).Observe(float64(result.Duration.Milliseconds()))
	resp.Outcome = OutcomeSuccess
	resp.Result = result
	promAdmissions.WithLabelValues(req.Operation, string(resp.Outcome)).Inc()
	return resp, nil
}

// admit runs step 3 or 4: trial consumption or credit reservation.
func (g *Gate) admit(ctx context.Context, req ExecuteRequest, resp *ExecuteResponse) (*ledger.ExecutionRecord, error) {
	if req.Identity.IsTrial() {
		remaining, err := g.trials.CheckAndConsume(ctx, req.Identity.Fingerprint, req.Identity.IP)
		if err != nil {
			if errors.Is(err, trial.ErrTrialExhausted) {
				resp.Outcome = OutcomeTrialExhausted
				return nil, err
			}
			resp.Outcome = OutcomeInternalError
			return nil, fmt.Errorf("trial check failed: %w", err)
		}
		resp.TrialRemaining = remaining

		rec, err := g.ledger.BeginTrialExecution(ctx, req.Identity.TrialKey(), req.Operation)
		if err != nil {
			resp.Outcome = OutcomeInternalError
			return nil, fmt.Errorf("failed to record trial execution: %w", err)
		}
		return rec, nil
	}

	cost := g.costs.Cost(req.Operation)
	rec, err := g.ledger.Reserve(ctx, req.Identity.AccountID, cost, req.Operation)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			resp.Outcome = OutcomeInsufficientCredit
			if status, balErr := g.ledger.GetBalance(ctx, req.Identity.AccountID); balErr == nil {
				resp.RemainingCredits = status.Balance
			}
			return nil, err
		}
		resp.Outcome = OutcomeInternalError
		return nil, fmt.Errorf("failed to reserve credit: %w", err)
	}
	return rec, nil
}

func (g *Gate) release(ctx context.Context, executionID string) {
	if _, err := g.ledger.Release(ctx, executionID); err != nil {
		g.logger.Printf("[Gate] Failed to release execution %s: %v", executionID, err)
		return
	}
	promReservations.WithLabelValues("released").Inc()
}
