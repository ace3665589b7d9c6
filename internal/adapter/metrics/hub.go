package metrics

import "github.com/prometheus/client_golang/prometheus"

// HubMetrics holds Prometheus metrics for the broadcast hub.
type HubMetrics struct {
	Subscribers   prometheus.Gauge
	Published     *prometheus.CounterVec
	DroppedEvents prometheus.Counter
}

// NewHubMetrics creates and registers hub metrics on the given registry.
func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Number of live hub subscriptions.",
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "published_total",
			Help:      "Events published to the hub, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_events_total",
			Help:      "Per-subscriber event drops caused by a full buffer.",
		}),
	}

	reg.MustRegister(m.Subscribers, m.Published, m.DroppedEvents)
	return m
}

func (m *HubMetrics) SetSubscribers(n int) {
	m.Subscribers.Set(float64(n))
}

func (m *HubMetrics) ObservePublish(kind, outcome string) {
	m.Published.WithLabelValues(kind, outcome).Inc()
}

func (m *HubMetrics) ObserveDrop() {
	m.DroppedEvents.Inc()
}
