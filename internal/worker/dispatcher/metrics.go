// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "tracker"
	metricsSubsystem = "dispatch"
)

// Metrics holds the dispatch counters exposed to prometheus.
type Metrics struct {
	sent       prometheus.Counter
	suppressed prometheus.Counter
	retried    prometheus.Counter
	failed     prometheus.Counter
	batches    prometheus.Histogram
}

// NewMetrics returns an unregistered metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sent_total",
			Help:      "Number of messages handed to the mail transport.",
		}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "suppressed_total",
			Help:      "Number of requests suppressed by the idempotency ledger.",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "retried_total",
			Help:      "Number of transient transport failures retried.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "failed_total",
			Help:      "Number of permanently failed dispatches.",
		}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batch_size",
			Help:      "Number of events coalesced per outbound message.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 6),
		}),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.sent.Describe(ch)
	m.suppressed.Describe(ch)
	m.retried.Describe(ch)
	m.failed.Describe(ch)
	m.batches.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.sent.Collect(ch)
	m.suppressed.Collect(ch)
	m.retried.Collect(ch)
	m.failed.Collect(ch)
	m.batches.Collect(ch)
}
