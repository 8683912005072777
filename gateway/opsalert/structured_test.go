// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package opsalert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStructuredAlerterPublish(t *testing.T) {
	alerter := NewStructuredAlerter()

	err := alerter.Publish(context.Background(), Event{
		Kind:      "commit_after_release",
		Severity:  SeverityCritical,
		AccountID: "acct-1",
		Message:   "commit arrived after release",
		Timestamp: time.Now().UTC(),
		Fields:    map[string]interface{}{"execution_id": "exec-1"},
	})
	assert.NoError(t, err)

	err = alerter.Publish(context.Background(), Event{
		Kind:     "webhook_parked",
		Severity: SeverityWarning,
		Message:  "payment parked",
	})
	assert.NoError(t, err)
}
