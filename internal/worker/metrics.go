// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Messages counts messages handled by dispatch workers.
// Use RegisterMetrics to register this with a Prometheus registry.
var Messages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plugbridge_worker_messages_total",
		Help: "Total number of messages handled by dispatch workers",
	},
	[]string{"type"},
)

// RegisterMetrics registers worker package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Messages)
}

func recordMessage(kind string) {
	Messages.WithLabelValues(kind).Inc()
}
