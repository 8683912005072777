// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for the ledger read/provisioning API
type Handler struct {
	service *Service
}

// NewHandler creates a new ledger handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the account routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/accounts", h.CreateAccount).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/accounts/{id}/balance", h.GetBalance).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/accounts/{id}/transactions", h.ListTransactions).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/executions/{id}", h.GetExecution).Methods("GET", "OPTIONS")
}

// CreateAccountRequest is the request body for creating an account
type CreateAccountRequest struct {
	AccountID string `json:"account_id,omitempty"`
	Email     string `json:"email"`
	Tier      Tier   `json:"tier,omitempty"`
}

// CreateAccount handles POST /api/v1/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	account, err := h.service.CreateAccount(r.Context(), req.AccountID, req.Email, req.Tier)
	if err != nil {
		switch err {
		case ErrAccountExists:
			h.writeError(w, "Account already exists", http.StatusConflict)
		case ErrInvalidTier:
			h.writeError(w, "Invalid tier", http.StatusBadRequest)
		default:
			h.writeError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(account)
}

// GetBalance handles GET /api/v1/accounts/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	if accountID == "" {
		h.writeError(w, "Account ID required", http.StatusBadRequest)
		return
	}

	status, err := h.service.GetBalance(r.Context(), accountID)
	if err != nil {
		if err == ErrAccountNotFound {
			h.writeError(w, "Account not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// ListTransactions handles GET /api/v1/accounts/{id}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	if accountID == "" {
		h.writeError(w, "Account ID required", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	opts := ListTransactionsOptions{
		Kind: TransactionKind(query.Get("kind")),
	}
	opts.Limit = 100
	if limit := query.Get("limit"); limit != "" {
		opts.Limit, _ = strconv.Atoi(limit)
	}
	if offset := query.Get("offset"); offset != "" {
		opts.Offset, _ = strconv.Atoi(offset)
	}

	transactions, err := h.service.ListTransactions(r.Context(), accountID, opts)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"account_id":   accountID,
		"transactions": transactions,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// GetExecution handles GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	rec, err := h.service.GetExecution(r.Context(), executionID)
	if err != nil {
		if err == ErrExecutionNotFound {
			h.writeError(w, "Execution not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
