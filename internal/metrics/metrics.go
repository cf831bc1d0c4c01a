// ABOUTME: Prometheus metrics for tasks, ring buffers and ingest sessions
// ABOUTME: Implements the engine observer and serves /metrics
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/stream"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

const namespace = "transcoder"

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// Task metrics
	TasksQueued   *prometheus.CounterVec
	TasksFinished *prometheus.CounterVec
	TasksRunning  *prometheus.GaugeVec
	TaskDuration  *prometheus.HistogramVec
	FramesDecoded *prometheus.CounterVec
	RingDropped   *prometheus.CounterVec
	RingRejected  *prometheus.CounterVec
	RingHighWater *prometheus.GaugeVec

	// Ingest metrics
	IngestSessions *prometheus.GaugeVec
	IngestStarted  *prometheus.CounterVec
	IngestPackets  *prometheus.CounterVec
	IngestBytes    *prometheus.CounterVec
	IngestErrors   *prometheus.CounterVec
	SpeechChanges  prometheus.Counter
}

// New creates and registers all metrics, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TasksQueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_queued_total",
			Help:      "Tasks submitted to the engine",
		}, []string{"kind"}),
		TasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal state",
		}, []string{"kind", "state"}),
		TasksRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Tasks queued or running",
		}, []string{"kind"}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time from start to completion",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}, []string{"kind"}),
		FramesDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "PCM frames consumed by tasks",
		}, []string{"kind"}),
		RingDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ring_dropped_total",
			Help:      "Frames evicted by drop-oldest ring buffers",
		}, []string{"kind"}),
		RingRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ring_rejected_total",
			Help:      "Pushes refused with BufferFull",
		}, []string{"kind"}),
		RingHighWater: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_high_water",
			Help:      "Deepest ring occupancy of the last finished task",
		}, []string{"kind"}),

		IngestSessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_sessions",
			Help:      "Active remote capture sessions",
		}, []string{"transport"}),
		IngestStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_sessions_total",
			Help:      "Remote capture sessions started",
		}, []string{"transport"}),
		IngestPackets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_packets_total",
			Help:      "Audio packets received",
		}, []string{"transport"}),
		IngestBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_bytes_total",
			Help:      "Audio payload bytes received",
		}, []string{"transport"}),
		IngestErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_errors_total",
			Help:      "Packets or sessions rejected, by error kind",
		}, []string{"transport", "kind"}),
		SpeechChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_transitions_total",
			Help:      "Speech state changes across capture sessions",
		}),
	}
}

// Registry exposes the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TaskQueued implements transcode.Observer.
func (m *Metrics) TaskQueued(kind transcode.Kind) {
	m.TasksQueued.WithLabelValues(string(kind)).Inc()
	m.TasksRunning.WithLabelValues(string(kind)).Inc()
}

// TaskFinished implements transcode.Observer.
func (m *Metrics) TaskFinished(kind transcode.Kind, state transcode.State, elapsed time.Duration) {
	m.TasksFinished.WithLabelValues(string(kind), state.String()).Inc()
	m.TasksRunning.WithLabelValues(string(kind)).Dec()
	m.TaskDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// FramesProcessed implements transcode.Observer.
func (m *Metrics) FramesProcessed(kind transcode.Kind, n int64) {
	m.FramesDecoded.WithLabelValues(string(kind)).Add(float64(n))
}

// RingDrained implements transcode.Observer.
func (m *Metrics) RingDrained(kind transcode.Kind, stats stream.Stats) {
	m.RingDropped.WithLabelValues(string(kind)).Add(float64(stats.Dropped))
	m.RingRejected.WithLabelValues(string(kind)).Add(float64(stats.Rejected))
	m.RingHighWater.WithLabelValues(string(kind)).Set(float64(stats.HighWater))
}

// SessionStarted records a new ingest session on transport.
func (m *Metrics) SessionStarted(transport string) {
	m.IngestStarted.WithLabelValues(transport).Inc()
	m.IngestSessions.WithLabelValues(transport).Inc()
}

// SessionEnded records the end of an ingest session on transport.
func (m *Metrics) SessionEnded(transport string) {
	m.IngestSessions.WithLabelValues(transport).Dec()
}

// PacketReceived counts one audio packet of size bytes.
func (m *Metrics) PacketReceived(transport string, size int) {
	m.IngestPackets.WithLabelValues(transport).Inc()
	m.IngestBytes.WithLabelValues(transport).Add(float64(size))
}

// IngestError counts a rejected packet or session.
func (m *Metrics) IngestError(transport, kind string) {
	m.IngestErrors.WithLabelValues(transport, kind).Inc()
}

// SpeechChanged counts a VAD transition.
func (m *Metrics) SpeechChanged() {
	m.SpeechChanges.Inc()
}

var _ transcode.Observer = (*Metrics)(nil)
