// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cycle

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "tracker"
	metricsSubsystem = "cycle"
)

// Metrics holds the cycle outcome counters exposed to prometheus.
type Metrics struct {
	succeeded  prometheus.Counter
	softFailed prometheus.Counter
	hardFailed prometheus.Counter
	aborted    prometheus.Counter
}

// NewMetrics returns an unregistered metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "succeeded_total",
			Help:      "Number of task runs that succeeded.",
		}),
		softFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "soft_failed_total",
			Help:      "Number of task runs that soft-failed, keeping previous values.",
		}),
		hardFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "hard_failed_total",
			Help:      "Number of task runs that hard-failed.",
		}),
		aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "aborted_packages_total",
			Help:      "Number of packages whose cycle was cut short by a hard failure.",
		}),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.succeeded.Describe(ch)
	m.softFailed.Describe(ch)
	m.hardFailed.Describe(ch)
	m.aborted.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.succeeded.Collect(ch)
	m.softFailed.Collect(ch)
	m.hardFailed.Collect(ch)
	m.aborted.Collect(ch)
}
