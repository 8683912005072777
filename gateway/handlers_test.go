// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/gate/gateway/ledger"
)

func newTestServer(t *testing.T) (*mux.Router, *gateHarness) {
	t.Helper()
	h := newGateHarness(t)

	resolver := NewIdentityResolver(testJWTSecret, h.ledger)
	router := mux.NewRouter()
	NewHandler(h.gate, resolver, h.limiter, h.ledger).RegisterRoutes(router)
	return router, h
}

func accountRequest(t *testing.T, accountID string) *http.Request {
	t.Helper()
	token, err := IssueAccountToken(testJWTSecret, accountID, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/execute/agent.run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func trialRequest() *http.Request {
	req := httptest.NewRequest("POST", "/api/v1/execute/agent.run", nil)
	req.Header.Set(FingerprintHeader, "fp-1")
	req.RemoteAddr = "203.0.113.7:52110"
	return req
}

func TestExecuteEndpointAccountSuccess(t *testing.T) {
	router, h := newTestServer(t)
	h.repo.seed("acct-1", ledger.TierBasic, decimal.RequireFromString("10.00"))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, accountRequest(t, "acct-1"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))

	var body struct {
		ExecutionID string          `json:"execution_id"`
		Output      json.RawMessage `json:"output"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotEmpty(t, body.ExecutionID)
	assert.JSONEq(t, `{"answer":42}`, string(body.Output))
	assert.True(t, h.repo.balanceOf("acct-1").Equal(decimal.RequireFromString("7.00")))
}

func TestExecuteEndpointRateLimit429(t *testing.T) {
	router, h := newTestServer(t)
	h.repo.seed("acct-1", ledger.TierFree, decimal.RequireFromString("100.00"))

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, accountRequest(t, "acct-1"))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, accountRequest(t, "acct-1"))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	var body struct {
		RetryAfter int `json:"retry_after"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Greater(t, body.RetryAfter, 0)
}

func TestExecuteEndpointInsufficientCredit402(t *testing.T) {
	router, h := newTestServer(t)
	h.repo.seed("acct-1", ledger.TierBasic, decimal.RequireFromString("1.25"))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, accountRequest(t, "acct-1"))

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)

	var body struct {
		Error            string          `json:"error"`
		RemainingCredits decimal.Decimal `json:"remaining_credits"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Insufficient credit", body.Error)
	assert.True(t, body.RemainingCredits.Equal(decimal.RequireFromString("1.25")))
}

func TestExecuteEndpointTrialExhausted402(t *testing.T) {
	router, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, trialRequest())
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, trialRequest())

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Free trial exhausted", body.Error)
}

func TestExecuteEndpointExecutorFailure502(t *testing.T) {
	router, h := newTestServer(t)
	h.repo.seed("acct-1", ledger.TierBasic, decimal.RequireFromString("10.00"))
	h.executor.err = ErrExecutorTimeout

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, accountRequest(t, "acct-1"))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.True(t, h.repo.balanceOf("acct-1").Equal(decimal.RequireFromString("10.00")),
		"failed execution must not charge the caller")
}

func TestExecuteEndpointRejectsMissingIdentity(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/execute/agent.run", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestExecuteEndpointRejectsInvalidToken(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/execute/agent.run", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRateLimitStatusEndpoint(t *testing.T) {
	router, h := newTestServer(t)
	h.repo.seed("acct-1", ledger.TierBasic, decimal.RequireFromString("10.00"))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, accountRequest(t, "acct-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest("GET", "/api/v1/ratelimit/account:acct-1/status?tier=basic", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.NotNil(t, status)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Status string          `json:"status"`
		Checks map[string]bool `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.True(t, body.Checks["ledger"])
	assert.True(t, body.Checks["ratelimit"])
}
