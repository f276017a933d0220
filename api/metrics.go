package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the streaming gateway's Prometheus instruments.
type Metrics struct {
	SessionsActive   *prometheus.GaugeVec
	SessionsCreated  *prometheus.CounterVec
	SessionsReaped   prometheus.Counter
	FramesReceived   *prometheus.CounterVec
	FramesProcessed  *prometheus.CounterVec
	FramesSkipped    prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	PipelineFailures prometheus.Counter
	ProtocolErrors   prometheus.Counter
}

// NewMetrics registers the gateway metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a private registry
// to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "brushcast_sessions_active",
			Help: "Currently registered sessions.",
		}, []string{"mode"}),
		SessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brushcast_sessions_created_total",
			Help: "Sessions created since start.",
		}, []string{"mode"}),
		SessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "brushcast_sessions_reaped_total",
			Help: "Sessions closed by the idle reaper.",
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brushcast_frames_received_total",
			Help: "Frames received over WebSocket.",
		}, []string{"mode"}),
		FramesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brushcast_frames_processed_total",
			Help: "Frames handed to the pipeline.",
		}, []string{"mode"}),
		FramesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "brushcast_frames_skipped_total",
			Help: "Frames skipped by the similarity filter.",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brushcast_frames_dropped_total",
			Help: "Frames discarded by latest-wins overwrites, depth bounds and clears.",
		}, []string{"mode"}),
		PipelineFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "brushcast_pipeline_failures_total",
			Help: "Per-frame pipeline errors.",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "brushcast_protocol_errors_total",
			Help: "Connection-fatal wire protocol violations.",
		}),
	}
}
