// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call status labels.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotReady = "not_ready"
	StatusTimeout  = "timeout"
	StatusCanceled = "canceled"
	StatusAborted  = "aborted"
)

// Calls counts bridge calls by kind and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Calls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plugbridge_calls_total",
		Help: "Total number of plugin calls made through a bridge",
	},
	[]string{"kind", "mode", "status"},
)

// CallDuration is the histogram for call latency.
// Use RegisterMetrics to register this with a Prometheus registry.
var CallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "plugbridge_call_duration_seconds",
		Help:    "Plugin call duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind", "mode"},
)

// PendingCalls is the number of calls awaiting a worker response.
var PendingCalls = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "plugbridge_pending_calls",
		Help: "Calls awaiting a worker response",
	},
)

// IgnoredResponses counts worker responses that settled no pending call,
// by reason (invalid, malformed_id, unmatched).
var IgnoredResponses = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plugbridge_ignored_responses_total",
		Help: "Worker responses that matched no pending call",
	},
	[]string{"reason"},
)

// RegisterMetrics registers bridge package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Calls)
	reg.MustRegister(CallDuration)
	reg.MustRegister(PendingCalls)
	reg.MustRegister(IgnoredResponses)
}

func recordCall(kind, mode, status string, start time.Time) {
	Calls.WithLabelValues(kind, mode, status).Inc()
	CallDuration.WithLabelValues(kind, mode).Observe(time.Since(start).Seconds())
}
