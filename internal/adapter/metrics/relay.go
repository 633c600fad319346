package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics holds Prometheus metrics for local ports and dispatch fan-out.
type RelayMetrics struct {
	ActivePorts    prometheus.Gauge
	Topics         prometheus.Gauge
	Handlers       prometheus.Gauge
	PortMessages   *prometheus.CounterVec
	Dispatches     *prometheus.CounterVec
	Deliveries     prometheus.Counter
	PortsEvicted   prometheus.Counter
	PortsRejected  prometheus.Counter
	FanoutDuration prometheus.Histogram
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ActivePorts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active_ports",
			Help:      "Number of connected ports.",
		}),
		Topics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "topics",
			Help:      "Number of topics with at least one handler.",
		}),
		Handlers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "handlers",
			Help:      "Number of registered handlers across all ports.",
		}),
		PortMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "port_messages_total",
			Help:      "Total number of messages received from ports, by kind and result.",
		}, []string{"kind", "result"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dispatches_total",
			Help:      "Total number of upstream dispatches, by event type category and whether any handler matched.",
		}, []string{"category", "matched"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Total number of dispatch messages handed to ports.",
		}),
		PortsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "ports_evicted_total",
			Help:      "Total number of ports closed because their send buffer was full.",
		}),
		PortsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "ports_rejected_total",
			Help:      "Total number of port connections rejected at the port limit.",
		}),
		FanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "fanout_duration_seconds",
			Help:      "Duration of routing and enqueueing one dispatch in seconds.",
			Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
	}

	reg.MustRegister(
		m.ActivePorts, m.Topics, m.Handlers, m.PortMessages, m.Dispatches,
		m.Deliveries, m.PortsEvicted, m.PortsRejected, m.FanoutDuration,
	)
	return m
}
