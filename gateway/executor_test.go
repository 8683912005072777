// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPExecutorRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/operations/agent.run", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var input map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		assert.Equal(t, "hello", input["prompt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"world"}`))
	}))
	defer server.Close()

	executor := NewHTTPExecutor(server.URL, 5*time.Second)
	result, err := executor.Run(context.Background(), "agent.run", json.RawMessage(`{"prompt":"hello"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"world"}`, string(result.Output))
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestHTTPExecutorNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	executor := NewHTTPExecutor(server.URL, 5*time.Second)
	_, err := executor.Run(context.Background(), "agent.run", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExecutorTimeout)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPExecutorTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	executor := NewHTTPExecutor(server.URL, 50*time.Millisecond)
	_, err := executor.Run(context.Background(), "agent.run", nil)
	assert.ErrorIs(t, err, ErrExecutorTimeout)
}
