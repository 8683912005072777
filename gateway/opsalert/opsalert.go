// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package opsalert delivers integrity alerts to the operator queue.
// Integrity errors (mismatched webhook amounts, orphaned reservations,
// negative-balance attempts) must never be silently swallowed and never
// reach the end user; they are published here for the on-call queue.
package opsalert

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// Severity of an operator alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one operator-queue entry.
type Event struct {
	Kind      string                 `json:"kind"`
	Severity  Severity               `json:"severity"`
	AccountID string                 `json:"account_id,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Alerter publishes events to the operator queue. Publishing must never
// block or fail the request path; implementations log delivery failures
// and move on.
type Alerter interface {
	Publish(ctx context.Context, event Event) error
}

// LogAlerter writes alerts to the process log. Used when no Kafka
// brokers are configured; the alert is still visible, just not queued.
type LogAlerter struct {
	logger *log.Logger
}

// NewLogAlerter creates a log-based alerter
func NewLogAlerter(logger *log.Logger) *LogAlerter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogAlerter{logger: logger}
}

// Publish logs the alert event
func (a *LogAlerter) Publish(ctx context.Context, event Event) error {
	a.logger.Printf("[OPS ALERT] %s/%s account=%s: %s", event.Severity, event.Kind, event.AccountID, event.Message)
	return nil
}

// KafkaAlerter publishes alerts to a Kafka topic via a synchronous
// producer, so a successful Publish means the broker has the event.
type KafkaAlerter struct {
	producer sarama.SyncProducer
	topic    string
	logger   *log.Logger
}

// NewKafkaAlerter creates an alerter publishing to the given topic.
func NewKafkaAlerter(brokers []string, topic string, logger *log.Logger) (*KafkaAlerter, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if logger == nil {
		logger = log.Default()
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaAlerter{producer: producer, topic: topic, logger: logger}, nil
}

// newKafkaAlerterWithProducer is used by tests to inject a mock producer.
func newKafkaAlerterWithProducer(producer sarama.SyncProducer, topic string, logger *log.Logger) *KafkaAlerter {
	if logger == nil {
		logger = log.Default()
	}
	return &KafkaAlerter{producer: producer, topic: topic, logger: logger}
}

// Publish sends the event to the operator topic. Failures are logged and
// returned, but callers treat them as non-fatal.
func (a *KafkaAlerter) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: a.topic,
		Key:   sarama.StringEncoder(event.Kind),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := a.producer.SendMessage(msg); err != nil {
		a.logger.Printf("[OpsAlert] Failed to publish %s alert: %v", event.Kind, err)
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Close shuts down the underlying producer.
func (a *KafkaAlerter) Close() error {
	return a.producer.Close()
}
