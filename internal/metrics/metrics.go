package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons for frames that never reached the render target.
const (
	SkipDecode  = "decode"
	SkipDropped = "dropped"
	SkipClosed  = "closed"
)

// Metrics holds all monitor metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	FramesReceived    *prometheus.CounterVec
	FramesRendered    *prometheus.CounterVec
	FramesSkipped     *prometheus.CounterVec
	DetectionMessages *prometheus.CounterVec
	ParseErrors       *prometheus.CounterVec
	ChannelState      *prometheus.GaugeVec
	ActiveSessions    prometheus.Gauge
	HealthPolls       *prometheus.CounterVec
	HealthPollLatency prometheus.Histogram
	DecodeLatency     prometheus.Histogram

	// Connected MJPEG + SSE clients
	StreamClients atomic.Int64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_frames_received_total",
			Help: "Encoded frames received on the video channel",
		}, []string{"source"}),
		FramesRendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_frames_rendered_total",
			Help: "Frames decoded and composited with overlays",
		}, []string{"source"}),
		FramesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_frames_skipped_total",
			Help: "Frames that were not rendered, by reason",
		}, []string{"source", "reason"}),
		DetectionMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_detection_messages_total",
			Help: "Detection messages applied",
		}, []string{"source"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_detection_parse_errors_total",
			Help: "Detection messages discarded as malformed",
		}, []string{"source"}),
		ChannelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "monitor_channel_state",
			Help: "Channel state (0=connecting, 1=streaming, 2=disconnected, 3=closed)",
		}, []string{"source", "channel"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_active_sessions",
			Help: "Stream sessions currently open",
		}),
		HealthPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_health_polls_total",
			Help: "Health fetches by result",
		}, []string{"result"}),
		HealthPollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_health_poll_duration_seconds",
			Help:    "Health fetch latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		DecodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_decode_duration_seconds",
			Help:    "Frame decode + composite latency",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
	}

	m.registry.MustRegister(
		m.FramesReceived,
		m.FramesRendered,
		m.FramesSkipped,
		m.DetectionMessages,
		m.ParseErrors,
		m.ChannelState,
		m.ActiveSessions,
		m.HealthPolls,
		m.HealthPollLatency,
		m.DecodeLatency,
	)
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "monitor_stream_clients",
			Help: "Connected MJPEG and SSE clients",
		},
		func() float64 { return float64(m.StreamClients.Load()) },
	))

	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) FrameReceived(source string) {
	if m != nil {
		m.FramesReceived.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) FrameRendered(source string, took time.Duration) {
	if m != nil {
		m.FramesRendered.WithLabelValues(source).Inc()
		m.DecodeLatency.Observe(took.Seconds())
	}
}

func (m *Metrics) FrameSkipped(source, reason string) {
	if m != nil {
		m.FramesSkipped.WithLabelValues(source, reason).Inc()
	}
}

func (m *Metrics) DetectionApplied(source string) {
	if m != nil {
		m.DetectionMessages.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) DetectionRejected(source string) {
	if m != nil {
		m.ParseErrors.WithLabelValues(source).Inc()
	}
}

// SetChannelState records the numeric state of one channel.
func (m *Metrics) SetChannelState(source, channel string, state int) {
	if m != nil {
		m.ChannelState.WithLabelValues(source, channel).Set(float64(state))
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

// HealthPolled records one poller tick.
func (m *Metrics) HealthPolled(err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.HealthPolls.WithLabelValues(result).Inc()
	m.HealthPollLatency.Observe(took.Seconds())
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.StreamClients.Add(1)
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.StreamClients.Add(-1)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
