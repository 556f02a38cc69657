// Package metrics exposes prometheus collectors for lifecycle operations
// and the HTTP API. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vmctl"

// Metrics holds every collector vmctl registers.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	reconciled prometheus.Counter
	machines   *prometheus.GaugeVec
	requests   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Lifecycle operations by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Lifecycle operation latency.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_records_reconciled_total",
			Help:      "RUNNING records rewritten to STOPPED because their process was gone.",
		}),
		machines: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "machines",
			Help:      "Machines in the registry by status, as of the last full listing.",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by method and status code.",
		}, []string{"code", "method"}),
		gatherer: reg,
	}
	reg.MustRegister(m.operations, m.duration, m.reconciled, m.machines, m.requests)
	return m
}

// ObserveOperation records one lifecycle operation.
func (m *Metrics) ObserveOperation(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// Reconciled counts one stale record rewritten to STOPPED.
func (m *Metrics) Reconciled() {
	if m == nil {
		return
	}
	m.reconciled.Inc()
}

// SetMachines sets the machine count for status.
func (m *Metrics) SetMachines(status string, n int) {
	if m == nil {
		return
	}
	m.machines.WithLabelValues(status).Set(float64(n))
}

// InstrumentHandler counts requests served by h.
func (m *Metrics) InstrumentHandler(h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	return promhttp.InstrumentHandlerCounter(m.requests, h)
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
