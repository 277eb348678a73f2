package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameReceived("cam1")
		m.FrameSkipped("cam1", SkipDecode)
		m.HealthPolled(errors.New("x"), time.Millisecond)
		m.ClientConnected()
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.FrameReceived("cam1")
	m.FrameReceived("cam1")
	m.FrameRendered("cam1", 3*time.Millisecond)
	m.FrameSkipped("cam1", SkipDecode)
	m.DetectionRejected("cam2")
	m.HealthPolled(nil, time.Millisecond)
	m.HealthPolled(errors.New("down"), time.Millisecond)
	m.SessionOpened()
	m.SetChannelState("cam1", "ws_video", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues("cam1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesRendered.WithLabelValues("cam1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSkipped.WithLabelValues("cam1", SkipDecode)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors.WithLabelValues("cam2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthPolls.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelState.WithLabelValues("cam1", "ws_video")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ClientConnected()
	m.FrameReceived("cam1")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "monitor_stream_clients 1")
	assert.Contains(t, body, `monitor_frames_received_total{source="cam1"} 1`)
}
