package metrics

import "github.com/prometheus/client_golang/prometheus"

// UpstreamMetrics holds Prometheus metrics for the upstream event connection.
type UpstreamMetrics struct {
	Connected         prometheus.Gauge
	ConnectAttempts   *prometheus.CounterVec
	Reconnects        *prometheus.CounterVec
	FramesReceived    *prometheus.CounterVec
	FramesSent        *prometheus.CounterVec
	PendingFrames     prometheus.Gauge
	DesiredTopics     prometheus.Gauge
	HandshakeDuration prometheus.Histogram
	ResumeResults     *prometheus.CounterVec
}

// NewUpstreamMetrics creates and registers upstream metrics on the given registry.
func NewUpstreamMetrics(reg prometheus.Registerer) *UpstreamMetrics {
	m := &UpstreamMetrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "connected",
			Help:      "1 while a session with the upstream event service is ready.",
		}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "connect_attempts_total",
			Help:      "Total number of upstream connection attempts, by result.",
		}, []string{"result"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "reconnects_total",
			Help:      "Total number of upstream session ends followed by a reconnect, by reason.",
		}, []string{"reason"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "frames_received_total",
			Help:      "Total number of frames received from upstream, by opcode.",
		}, []string{"op"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "frames_sent_total",
			Help:      "Total number of frames sent upstream, by opcode.",
		}, []string{"op"}),
		PendingFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "pending_frames",
			Help:      "Number of outgoing frames waiting for a ready session.",
		}),
		DesiredTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "desired_topics",
			Help:      "Number of topics the relay wants subscribed upstream.",
		}),
		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "handshake_duration_seconds",
			Help:      "Time from dial to a ready session in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ResumeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "resume_results_total",
			Help:      "Total number of session resume attempts, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.Connected, m.ConnectAttempts, m.Reconnects, m.FramesReceived, m.FramesSent,
		m.PendingFrames, m.DesiredTopics, m.HandshakeDuration, m.ResumeResults,
	)
	return m
}
