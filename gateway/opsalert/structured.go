// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package opsalert

import (
	"context"

	"axonflow/gate/shared/logger"
)

// StructuredAlerter emits alerts as structured JSON log lines. It is
// the default sink when no Kafka brokers are configured, so every
// integrity event is still machine-searchable in the container logs.
type StructuredAlerter struct {
	logger *logger.Logger
}

// NewStructuredAlerter creates a structured log alerter.
func NewStructuredAlerter() *StructuredAlerter {
	return &StructuredAlerter{logger: logger.New("gate-alerts")}
}

// Publish writes the event at a level matching its severity.
func (a *StructuredAlerter) Publish(ctx context.Context, event Event) error {
	fields := map[string]interface{}{
		"kind":     event.Kind,
		"severity": string(event.Severity),
	}
	for k, v := range event.Fields {
		fields[k] = v
	}

	if event.Severity == SeverityCritical {
		a.logger.Error(event.AccountID, "", event.Message, fields)
	} else {
		a.logger.Warn(event.AccountID, "", event.Message, fields)
	}
	return nil
}
