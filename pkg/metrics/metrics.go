// Package metrics exposes Prometheus collectors for catalog runs. A run
// writes its registry to a textfile for node-exporter collection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "catalogctl"

// Metrics holds the collectors for one run.
type Metrics struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	backendCalls *prometheus.HistogramVec
	runDuration  *prometheus.HistogramVec
	stateRetries prometheus.Counter
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "product_operations_total",
				Help:      "Product operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		backendCalls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_call_duration_seconds",
				Help:      "Duration of provisioning backend calls",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"operation"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of whole publish, deploy and terminate runs",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"operation"},
		),
		stateRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_commit_retries_total",
			Help:      "State commits retried after a concurrent write",
		}),
	}
	m.registry.MustRegister(m.operations, m.backendCalls, m.runDuration, m.stateRetries)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOutcome counts a finished product operation.
func (m *Metrics) RecordOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveBackendCall records the duration of a provisioner call.
func (m *Metrics) ObserveBackendCall(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveRun records the duration of a run.
func (m *Metrics) ObserveRun(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// StateRetry counts a retried state commit.
func (m *Metrics) StateRetry() {
	if m == nil {
		return
	}
	m.stateRetries.Inc()
}

// WriteFile writes the registry to path in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
