// Package metrics provides Prometheus metrics collection for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the metering core.
type Collector struct {
	// Invocation metrics
	InvocationsTotal  *prometheus.CounterVec
	InvocationLatency *prometheus.HistogramVec
	InFlight          prometheus.Gauge

	// Auth metrics
	AuthFailures prometheus.Counter

	// Credit metrics
	CreditsCharged *prometheus.CounterVec

	// Ledger metrics
	RecordRetries  prometheus.Counter
	RecordFailures prometheus.Counter
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return newWith(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates a collector on a custom registry.
// Useful for tests to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return newWith(promauto.With(reg))
}

func newWith(factory promauto.Factory) *Collector {
	return &Collector{
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "invocations_total",
				Help:      "Invocation attempts by terminal outcome",
			},
			[]string{"outcome"},
		),
		InvocationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "metergate",
				Name:      "invocation_duration_seconds",
				Help:      "End-to-end invocation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "metergate",
				Name:      "invocations_in_flight",
				Help:      "Invocations currently being processed",
			},
		),
		AuthFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "auth_failures_total",
				Help:      "Rejected credentials (bad, unknown or revoked keys)",
			},
		),
		CreditsCharged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "credits_charged_total",
				Help:      "Credits charged at admission, by api",
			},
			[]string{"api_id"},
		),
		RecordRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "ledger_append_retries_total",
				Help:      "Retried usage ledger appends",
			},
		),
		RecordFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "ledger_append_failures_total",
				Help:      "Usage ledger appends that failed after all retries; every increment is an operational alert",
			},
		),
	}
}
