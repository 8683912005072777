// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"axonflow/gate/gateway/ledger"
	"axonflow/gate/gateway/ratelimit"
)

// maxInputBytes bounds operation input size.
const maxInputBytes = 1 << 20

// Handler exposes the gate over HTTP.
type Handler struct {
	gate     *Gate
	identity *IdentityResolver
	limiter  *ratelimit.Limiter
	ledger   *ledger.Service
}

// NewHandler creates the gate HTTP handler.
func NewHandler(gate *Gate, identity *IdentityResolver, limiter *ratelimit.Limiter, ledgerSvc *ledger.Service) *Handler {
	return &Handler{gate: gate, identity: identity, limiter: limiter, ledger: ledgerSvc}
}

// RegisterRoutes registers the gate routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/execute/{operation}", h.Execute).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/ratelimit/{key}/status", h.RateLimitStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// Execute handles POST /api/v1/execute/{operation}
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	operation := mux.Vars(r)["operation"]
	if operation == "" {
		h.writeError(w, "Operation required", http.StatusBadRequest)
		return
	}

	identity, err := h.identity.Resolve(r.Context(), r)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredential):
			h.writeError(w, "Invalid credential", http.StatusUnauthorized)
		case errors.Is(err, ErrMissingIdentity):
			h.writeError(w, "Account credential or device fingerprint required", http.StatusUnauthorized)
		default:
			h.writeError(w, "Identity resolution failed", http.StatusInternalServerError)
		}
		return
	}

	input, err := io.ReadAll(io.LimitReader(r.Body, maxInputBytes))
	if err != nil {
		h.writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	resp, err := h.gate.Execute(r.Context(), ExecuteRequest{
		Identity:  identity,
		Operation: operation,
		Input:     input,
	})
	if err != nil {
		setRateLimitHeaders(w, resp.Decision)
		h.writeError(w, "Internal error", http.StatusInternalServerError)
		return
	}

	setRateLimitHeaders(w, resp.Decision)

	switch resp.Outcome {
	case OutcomeSuccess:
		body := map[string]interface{}{
			"execution_id": resp.ExecutionID,
			"output":       json.RawMessage(resp.Result.Output),
		}
		if identity.IsTrial() {
			body["trial_remaining"] = resp.TrialRemaining
		}
		h.writeJSON(w, http.StatusOK, body)

	case OutcomeRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(resp.Decision.RetryAfter))
		h.writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":       "Rate limit exceeded",
			"retry_after": resp.Decision.RetryAfter,
		})

	case OutcomeTrialExhausted:
		h.writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":   "Free trial exhausted",
			"message": "Sign up for an account to continue",
		})

	case OutcomeInsufficientCredit:
		h.writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":             "Insufficient credit",
			"remaining_credits": resp.RemainingCredits,
		})

	case OutcomeExecutionTimeout, OutcomeExecutionFailed:
		h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": "Execution failed, you have not been charged",
		})

	default:
		h.writeError(w, "Internal error", http.StatusInternalServerError)
	}
}

// RateLimitStatus handles GET /api/v1/ratelimit/{key}/status
func (h *Handler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	tier := ratelimit.TierFree
	if t := r.URL.Query().Get("tier"); t != "" {
		tier = ratelimit.Tier(t)
	}

	status, err := h.limiter.Status(r.Context(), key, tier)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"ledger":    h.ledger.IsHealthy(r.Context()),
		"ratelimit": h.limiter.IsHealthy(r.Context()),
	}

	// Redis being down degrades rate limiting but does not take the
	// service down; the ledger store is the hard dependency.
	status := http.StatusOK
	overall := "healthy"
	if !checks["ledger"] {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	} else if !checks["ratelimit"] {
		overall = "degraded"
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}

func setRateLimitHeaders(w http.ResponseWriter, decision ratelimit.Decision) {
	if decision.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
