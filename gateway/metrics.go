// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the execution gate
var (
	promAdmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_gate_admissions_total",
			Help: "Total number of execution requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	promExecutorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "axonflow_gate_executor_duration_milliseconds",
			Help:    "Agent executor call duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"operation"},
	)
	promReservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_gate_reservations_total",
			Help: "Total number of credit reservations by final state",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(promAdmissions)
	prometheus.MustRegister(promExecutorDuration)
	prometheus.MustRegister(promReservations)
}
