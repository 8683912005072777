// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(repo *MockRepository) *mux.Router {
	router := mux.NewRouter()
	NewHandler(newTestService(repo)).RegisterRoutes(router)
	return router
}

func TestCreateAccountHandler(t *testing.T) {
	repo := NewMockRepository()
	router := newTestRouter(repo)

	body, _ := json.Marshal(CreateAccountRequest{
		AccountID: "acct-1",
		Email:     "User@Example.com",
		Tier:      TierBasic,
	})
	req := httptest.NewRequest("POST", "/api/v1/accounts", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)

	var account Account
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &account))
	assert.Equal(t, "acct-1", account.AccountID)
	assert.Equal(t, "user@example.com", account.Email)

	// Second create with the same ID conflicts.
	req = httptest.NewRequest("POST", "/api/v1/accounts", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreateAccountHandlerRejectsBadBody(t *testing.T) {
	router := newTestRouter(NewMockRepository())

	req := httptest.NewRequest("POST", "/api/v1/accounts", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetBalanceHandler(t *testing.T) {
	repo := NewMockRepository()
	repo.seedAccount("acct-1", TierBasic, dec("12.50"))
	router := newTestRouter(repo)

	req := httptest.NewRequest("GET", "/api/v1/accounts/acct-1/balance", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var status BalanceStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "acct-1", status.AccountID)
	assert.True(t, status.Balance.Equal(dec("12.50")))
}

func TestGetBalanceHandlerNotFound(t *testing.T) {
	router := newTestRouter(NewMockRepository())

	req := httptest.NewRequest("GET", "/api/v1/accounts/missing/balance", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Account not found", resp["error"])
}

func TestListTransactionsHandler(t *testing.T) {
	repo := NewMockRepository()
	repo.seedAccount("acct-1", TierBasic, dec("10.00"))
	svc := newTestService(repo)
	_, err := svc.Reserve(context.Background(), "acct-1", dec("3.00"), "agent.run")
	require.NoError(t, err)

	router := newTestRouter(repo)
	req := httptest.NewRequest("GET", "/api/v1/accounts/acct-1/transactions?kind=reservation", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		AccountID    string        `json:"account_id"`
		Transactions []Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, KindReservation, resp.Transactions[0].Kind)
	assert.True(t, resp.Transactions[0].Amount.Equal(dec("-3.00")))
}

func TestGetExecutionHandler(t *testing.T) {
	repo := NewMockRepository()
	repo.seedAccount("acct-1", TierBasic, dec("10.00"))
	svc := newTestService(repo)
	rec, err := svc.Reserve(context.Background(), "acct-1", dec("3.00"), "agent.run")
	require.NoError(t, err)

	router := newTestRouter(repo)
	req := httptest.NewRequest("GET", "/api/v1/executions/"+rec.ExecutionID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var got ExecutionRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, rec.ExecutionID, got.ExecutionID)
	assert.Equal(t, StatusReserved, got.Status)

	req = httptest.NewRequest("GET", "/api/v1/executions/missing", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
