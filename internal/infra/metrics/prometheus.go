package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voicechat/internal/domain"
)

var statuses = []domain.SessionStatus{
	domain.StatusIdle,
	domain.StatusConnecting,
	domain.StatusActive,
	domain.StatusError,
}

// Metrics records session activity into its own Prometheus registry. It
// implements application.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Capture metrics
	FramesSent    prometheus.Counter
	BytesSent     prometheus.Counter
	FramesDropped prometheus.Counter
	SendFailures  prometheus.Counter

	// Playback metrics
	ChunksScheduled prometheus.Counter
	ChunksDiscarded prometheus.Counter
	ChunkDuration   prometheus.Histogram
	Interruptions   prometheus.Counter

	// Conversation metrics
	TurnsFinalized    prometheus.Counter
	MessagesFinalized prometheus.Counter
	MalformedPayloads prometheus.Counter
	Status            *prometheus.GaugeVec
}

// NewMetrics creates and registers all session metrics
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_frames_sent_total",
			Help: "Total number of capture frames sent upstream",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_pcm_bytes_sent_total",
			Help: "Total PCM16 bytes sent upstream before base64",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_frames_dropped_total",
			Help: "Capture frames discarded while no stream was attached",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_send_failures_total",
			Help: "Capture frames the stream refused",
		}),

		ChunksScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_chunks_scheduled_total",
			Help: "Total number of model audio chunks scheduled for playback",
		}),
		ChunksDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_chunks_discarded_total",
			Help: "Model audio chunks dropped after an interruption",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_chunk_duration_seconds",
			Help:    "Playback duration of scheduled chunks",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_interruptions_total",
			Help: "Total number of barge-in interruptions",
		}),

		TurnsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_turns_finalized_total",
			Help: "Total number of completed conversation turns",
		}),
		MessagesFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_messages_finalized_total",
			Help: "Total number of chat messages appended to the conversation",
		}),
		MalformedPayloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_malformed_payloads_total",
			Help: "Inbound messages dropped because they could not be decoded",
		}),
		Status: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicechat_session_status",
			Help: "1 for the current session status, 0 otherwise",
		}, []string{"status"}),
	}
	m.StatusChanged(domain.StatusIdle)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameSent(bytes int) {
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

func (m *Metrics) FrameDropped() {
	m.FramesDropped.Inc()
}

func (m *Metrics) SendFailed() {
	m.SendFailures.Inc()
}

func (m *Metrics) ChunkScheduled(d time.Duration) {
	m.ChunksScheduled.Inc()
	m.ChunkDuration.Observe(d.Seconds())
}

func (m *Metrics) ChunkDiscarded() {
	m.ChunksDiscarded.Inc()
}

func (m *Metrics) Interrupted() {
	m.Interruptions.Inc()
}

func (m *Metrics) TurnFinalized(messages int) {
	m.TurnsFinalized.Inc()
	m.MessagesFinalized.Add(float64(messages))
}

func (m *Metrics) MalformedPayload() {
	m.MalformedPayloads.Inc()
}

func (m *Metrics) StatusChanged(status domain.SessionStatus) {
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.Status.WithLabelValues(string(s)).Set(v)
	}
}
