package metrics

import "github.com/prometheus/client_golang/prometheus"

// SupervisorMetrics holds Prometheus metrics for heartbeat and idle handling.
type SupervisorMetrics struct {
	Heartbeats            prometheus.Counter
	HeartbeatSendFailures prometheus.Counter
	IdleClosures          prometheus.Counter
}

// NewSupervisorMetrics creates and registers supervisor metrics on the given registry.
func NewSupervisorMetrics(reg prometheus.Registerer) *SupervisorMetrics {
	m := &SupervisorMetrics{
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "heartbeats_total",
			Help:      "Heartbeat ticks processed.",
		}),
		HeartbeatSendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "heartbeat_send_failures_total",
			Help:      "Heartbeat frames that could not be sent to a session.",
		}),
		IdleClosures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "idle_closures_total",
			Help:      "Sessions closed for exceeding the idle timeout.",
		}),
	}

	reg.MustRegister(m.Heartbeats, m.HeartbeatSendFailures, m.IdleClosures)
	return m
}
