package metrics

import "github.com/prometheus/client_golang/prometheus"

// IdentityMetrics holds Prometheus metrics for credential validation.
type IdentityMetrics struct {
	Validations        *prometheus.CounterVec
	ValidationDuration prometheus.Histogram
	CircuitState       prometheus.Gauge
}

// NewIdentityMetrics creates and registers identity-service metrics on the given registry.
func NewIdentityMetrics(reg prometheus.Registerer) *IdentityMetrics {
	m := &IdentityMetrics{
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "validations_total",
			Help:      "Credential validations, by result.",
		}, []string{"result"}),
		ValidationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "validation_duration_seconds",
			Help:      "Latency of identity service calls.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "circuit_state",
			Help:      "Identity circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(m.Validations, m.ValidationDuration, m.CircuitState)
	return m
}
