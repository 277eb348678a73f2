package webmonitor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/health"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/history"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/sparkline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/stream"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
)

// Sessions is the part of stream.Manager the server reads.
type Sessions interface {
	Get(id string) (*stream.Session, error)
	Sessions() []*stream.Session
	Sources() []types.SourceInfo
}

// HealthSource provides the current health table.
type HealthSource interface {
	View() health.View
}

// sparklineStyle is the display name and colour of one metric's card.
type sparklineStyle struct {
	Metric history.Metric
	Name   string
	Color  string
}

var sparklineStyles = []sparklineStyle{
	{history.VideoFPS, "Video FPS", "#0af"},
	{history.DetectionFPS, "YOLO FPS", "#fa0"},
	{history.DetectionMs, "YOLO ms", "#f33"},
	{history.QueueDelayMs, "Queue ms", "#6c3"},
}

func styleFor(m history.Metric) sparklineStyle {
	for _, s := range sparklineStyles {
		if s.Metric == m {
			return s
		}
	}
	return sparklineStyle{Metric: m, Name: string(m), Color: "#ccc"}
}

// Server serves the live monitor endpoints.
type Server struct {
	cfg      Config
	sessions Sessions
	health   HealthSource
	hub      *Hub
	metrics  *metrics.Metrics
}

// NewServer returns a monitor server over the given sessions, health source and hub.
func NewServer(cfg Config, sessions Sessions, hs HealthSource, hub *Hub, m *metrics.Metrics) *Server {
	def := DefaultConfig()
	if cfg.SparklineWidth <= 0 {
		cfg.SparklineWidth = def.SparklineWidth
	}
	if cfg.SparklineHeight <= 0 {
		cfg.SparklineHeight = def.SparklineHeight
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		health:   hs,
		hub:      hub,
		metrics:  m,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /stream/{id}", s.handleStream)
	mux.HandleFunc("GET /api/sources", s.handleSources)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /api/sessions/{id}/frame.jpg", s.handleFrame)
	mux.HandleFunc("GET /api/sessions/{id}/sparklines/{file}", s.handleSparkline)
	mux.HandleFunc("GET /api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /api/recording/status", s.handleRecordingStatus)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return mux
}

// sessionFor resolves the {id} path value, writing a 404 when it is unknown.
func (s *Server) sessionFor(w http.ResponseWriter, id string) (*stream.Session, bool) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, s.dashboard()); err != nil {
		logger.Error("Server", "Render dashboard: %v", err)
		http.Error(w, "Failed to render dashboard", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r.PathValue("id"))
	if !ok {
		return
	}

	fb := s.hub.Frames(sess.ID())
	id, frameCh := fb.Subscribe()
	defer fb.Unsubscribe(id)
	s.metrics.ClientConnected()
	defer s.metrics.ClientDisconnected()

	streamMJPEGFromChannel(r.Context(), w, frameCh)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.SourcesResponse{Sources: s.sessions.Sources()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.health.View())
}

// sessionPayload is the JSON view of one session.
type sessionPayload struct {
	SourceID   string                     `json:"source_id"`
	RunID      string                     `json:"run_id"`
	State      stream.State               `json:"state"`
	Channels   map[backend.Channel]string `json:"channels"`
	Summary    *stream.Summary            `json:"summary"`
	Stats      stream.Stats               `json:"stats"`
	Detections []types.Detection          `json:"detections"`
	Sparklines map[history.Metric]string  `json:"sparklines"`
}

func (s *Server) sessionPayload(sess *stream.Session) sessionPayload {
	sparks := make(map[history.Metric]string, len(sparklineStyles))
	for _, st := range sparklineStyles {
		sparks[st.Metric] = s.renderSparkline(sess, st.Metric).Label
	}
	return sessionPayload{
		SourceID: sess.ID(),
		RunID:    sess.RunID(),
		State:    sess.State(),
		Channels: map[backend.Channel]string{
			backend.VideoChannel:     sess.ChannelState(backend.VideoChannel).String(),
			backend.DetectionChannel: sess.ChannelState(backend.DetectionChannel).String(),
		},
		Summary:    sess.Summary(),
		Stats:      sess.Stats(),
		Detections: sess.Detections(),
		Sparklines: sparks,
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.Sessions()
	out := make([]sessionPayload, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.sessionPayload(sess))
	}
	writeJSON(w, out)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, s.sessionPayload(sess))
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r.PathValue("id"))
	if !ok {
		return
	}

	img := sess.Snapshot()
	if img == nil {
		writeJSONWithStatus(w, map[string]any{"error": "no frame rendered yet"}, http.StatusNotFound)
		return
	}

	var out image.Image = img
	if v := r.URL.Query().Get("width"); v != "" {
		width, err := strconv.Atoi(v)
		if err != nil || width <= 0 {
			writeJSONWithStatus(w, map[string]any{"error": "width must be a positive integer"}, http.StatusBadRequest)
			return
		}
		out = overlay.Thumbnail(img, width)
	}

	data, err := overlay.EncodeJPEG(out, s.cfg.JPEGQuality)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) renderSparkline(sess *stream.Session, m history.Metric) sparkline.Sparkline {
	st := styleFor(m)
	opts := sparkline.DefaultOptions(st.Name, st.Color)
	opts.Width = s.cfg.SparklineWidth
	opts.Height = s.cfg.SparklineHeight
	return sparkline.Render(sess.History().Series(m).Snapshot(), opts)
}

func (s *Server) handleSparkline(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r.PathValue("id"))
	if !ok {
		return
	}
	name, isSVG := strings.CutSuffix(r.PathValue("file"), ".svg")
	metric, known := history.ParseMetric(name)
	if !isSVG || !known {
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown sparkline %q", r.PathValue("file"))}, http.StatusNotFound)
		return
	}

	sl := s.renderSparkline(sess, metric)
	w.Header().Set("X-Sparkline-Label", sl.Label)
	if !sl.Available() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(sl.SVG()))
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source != "" {
		if _, ok := s.sessionFor(w, source); !ok {
			return
		}
	}

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	db := s.hub.Detections()
	id, eventCh := db.Subscribe(source)
	defer db.Unsubscribe(id)
	s.metrics.ClientConnected()
	defer s.metrics.ClientDisconnected()

	streamEventsFromChannel(r.Context(), w, eventCh, useProtobuf)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r.URL.Query().Get("source"))
	if !ok {
		return
	}

	filename, err := s.hub.StartRecording(sess.ID())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "recording",
		"source":     sess.ID(),
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r.URL.Query().Get("source"))
	if !ok {
		return
	}

	filename, err := s.hub.StopRecording(sess.ID())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrNotRecording) {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"source":     sess.ID(),
		"file":       filename,
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"recordings": s.hub.RecordingStatus()})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
