// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrExecutorTimeout means the agent executor did not answer within the
// configured deadline. Timeouts and failures both release the
// reservation, but they are reported distinctly.
var ErrExecutorTimeout = errors.New("agent executor timed out")

// Result is a successful executor response.
type Result struct {
	Output   json.RawMessage `json:"output"`
	Duration time.Duration   `json:"-"`
}

// AgentExecutor runs one admitted operation. Implementations must
// report success, failure, and timeout distinctly.
type AgentExecutor interface {
	Run(ctx context.Context, operation string, input json.RawMessage) (*Result, error)
}

// HTTPExecutor calls the agent executor service over HTTP.
type HTTPExecutor struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTPExecutor creates an executor client with a bounded per-call
// timeout.
func NewHTTPExecutor(endpoint string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExecutor{
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

// Run posts the operation input to the executor service.
func (e *HTTPExecutor) Run(ctx context.Context, operation string, input json.RawMessage) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	url := fmt.Sprintf("%s/api/v1/operations/%s", e.endpoint, operation)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("failed to build executor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrExecutorTimeout
		}
		return nil, fmt.Errorf("executor call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read executor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("executor returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	return &Result{Output: body, Duration: time.Since(started)}, nil
}
