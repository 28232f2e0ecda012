// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Load result labels.
const (
	LoadSuccess = "success"
	LoadFailure = "failure"
)

// PluginLoads counts plugin initialization attempts by type and result.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plugbridge_plugin_loads_total",
		Help: "Total number of plugin load attempts",
	},
	[]string{"type", "result"},
)

// RegisterMetrics registers plugin package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PluginLoads)
}

func recordLoad(t Type, result string) {
	PluginLoads.WithLabelValues(string(t), result).Inc()
}
