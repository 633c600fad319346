package metrics

import "github.com/prometheus/client_golang/prometheus"

// RedisMetrics holds Prometheus metrics for session persistence and the dispatch mirror.
type RedisMetrics struct {
	SessionOps      *prometheus.CounterVec
	MirrorPublished prometheus.Counter
	MirrorDropped   prometheus.Counter
	MirrorFailed    prometheus.Counter
	CircuitState    prometheus.Gauge

	Commands         *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	ConnectionErrors prometheus.Counter
}

// NewRedisMetrics creates and registers Redis metrics on the given registry.
func NewRedisMetrics(reg prometheus.Registerer) *RedisMetrics {
	m := &RedisMetrics{
		SessionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "session_ops_total",
			Help:      "Total number of session store operations, by operation and result.",
		}, []string{"op", "result"}),
		MirrorPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "mirror_published_total",
			Help:      "Total number of dispatches published to Redis.",
		}),
		MirrorDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "mirror_dropped_total",
			Help:      "Total number of dispatches dropped because the mirror buffer was full.",
		}),
		MirrorFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "mirror_failed_total",
			Help:      "Total number of dispatches that failed to publish.",
		}),
		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "circuit_breaker_state",
			Help:      "Redis circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "commands_total",
			Help:      "Total number of Redis commands, by command and result.",
		}, []string{"command", "result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "command_duration_seconds",
			Help:      "Redis command latency in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"command"}),
		ConnectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "connection_errors_total",
			Help:      "Total number of failed Redis dials.",
		}),
	}

	reg.MustRegister(
		m.SessionOps, m.MirrorPublished, m.MirrorDropped, m.MirrorFailed, m.CircuitState,
		m.Commands, m.CommandDuration, m.ConnectionErrors,
	)
	return m
}
