// Package stream owns the per-source sessions that join the binary frame
// channel and the detection channel of one source into a composited view.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/history"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrSessionClosed is returned by operations on a torn down session.
var ErrSessionClosed = errors.New("session closed")

// Rendered is one composited frame handed to the Sink.
// Image is the session's render target and is only valid during the call.
type Rendered struct {
	SourceID   string
	Seq        uint64
	Image      *image.RGBA
	Detections []types.Detection
}

// Sink receives a session's output. Calls for one session are serialised per
// channel; PublishFrame must not retain Image after returning.
type Sink interface {
	PublishFrame(f Rendered)
	PublishDetections(sourceID string, msg *types.DetectionMessage)
}

// Summary is the latest scalar view of a source's detection channel.
type Summary struct {
	FrameCount   int64     `json:"frame_count"`
	SourceFPS    float64   `json:"source_fps"`
	VideoFPS     float64   `json:"fps_video"`
	DetectionFPS float64   `json:"fps_yolo"`
	DetectionMs  float64   `json:"yolo_ms"`
	QueueDelayMs float64   `json:"queue_delay_ms"`
	Detections   int       `json:"detections"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Stats counts what happened to each message a session received.
type Stats struct {
	FramesReceived  uint64 `json:"frames_received"`
	FramesRendered  uint64 `json:"frames_rendered"`
	DecodeErrors    uint64 `json:"decode_errors"`
	FramesDropped   uint64 `json:"frames_dropped"`
	MessagesApplied uint64 `json:"messages_applied"`
	ParseErrors     uint64 `json:"parse_errors"`
	PendingPayloads int64  `json:"pending_payloads"`
}

// Options configures a Session. Zero fields take defaults.
type Options struct {
	HistoryLen  int // samples per metric series
	DecodeQueue int // frames waiting for the decoder before the oldest is dropped
	Decoder     overlay.Decoder
	Compositor  *overlay.Compositor
	Sink        Sink
	Metrics     *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.HistoryLen <= 0 {
		o.HistoryLen = history.DefaultCapacity
	}
	if o.DecodeQueue <= 0 {
		o.DecodeQueue = 2
	}
	if o.Decoder == nil {
		o.Decoder = overlay.ImageDecoder{}
	}
	if o.Compositor == nil {
		o.Compositor = overlay.NewCompositor(overlay.DefaultStyle())
	}
	return o
}

// Session joins the two channels of one source. Frames are decoded off the
// receive path and composited with whatever detection set is current at that
// moment; the two channels are never correlated by frame counter.
type Session struct {
	id    string
	runID string
	sub   backend.Subscriber
	opts  Options
	log   logger.Module

	ctx    context.Context
	cancel context.CancelFunc

	// mu serialises rendering against teardown.
	mu     sync.Mutex
	closed atomic.Bool
	target *image.RGBA

	stateMu sync.Mutex
	states  map[backend.Channel]State
	conns   map[backend.Channel]backend.Conn

	detections atomic.Pointer[[]types.Detection]
	summary    atomic.Pointer[Summary]
	history    *history.MetricSet

	inbox     chan *frameHandle
	videoDone chan struct{}
	frameSeq  uint64
	geometry  image.Rectangle // last decoded frame size, decoder goroutine only

	framesReceived  atomic.Uint64
	framesRendered  atomic.Uint64
	decodeErrors    atomic.Uint64
	framesDropped   atomic.Uint64
	messagesApplied atomic.Uint64
	parseErrors     atomic.Uint64
	pending         atomic.Int64

	started atomic.Bool
	wg      sync.WaitGroup
}

// NewSession creates a session for sourceID. Call Start to open the channels.
func NewSession(sourceID string, sub backend.Subscriber, opts Options) *Session {
	opts = opts.withDefaults()
	runID := uuid.NewString()
	s := &Session{
		id:    sourceID,
		runID: runID,
		sub:   sub,
		opts:  opts,
		log:   logger.For("Session").With(sourceID),
		states: map[backend.Channel]State{
			backend.VideoChannel:     Connecting,
			backend.DetectionChannel: Connecting,
		},
		conns:     make(map[backend.Channel]backend.Conn, 2),
		history:   history.NewMetricSet(opts.HistoryLen),
		inbox:     make(chan *frameHandle, opts.DecodeQueue),
		videoDone: make(chan struct{}),
	}
	empty := []types.Detection{}
	s.detections.Store(&empty)
	return s
}

// ID returns the source identifier.
func (s *Session) ID() string { return s.id }

// RunID identifies this session instance in logs and APIs.
func (s *Session) RunID() string { return s.runID }

// Start opens both subscriptions and the decoder. It never blocks on the network.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return fmt.Errorf("session %s already started", s.id)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	for ch := range s.states {
		s.opts.Metrics.SetChannelState(s.id, string(ch), int(Connecting))
	}
	s.opts.Metrics.SessionOpened()

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		defer close(s.videoDone)
		s.runChannel(backend.VideoChannel, s.handleFrame)
	}()
	go func() {
		defer s.wg.Done()
		s.runChannel(backend.DetectionChannel, s.handleDetection)
	}()
	go func() {
		defer s.wg.Done()
		s.decodeLoop()
	}()

	s.log.Info("session %s started", s.runID)
	return nil
}

// Close tears the session down: both subscriptions are closed and no decode
// finishing afterwards touches the render target or the sink. Close does not
// wait for in-flight decodes; use Wait for that.
func (s *Session) Close() {
	s.mu.Lock()
	already := s.closed.Swap(true)
	cancel, started := s.cancel, s.started.Load()
	s.mu.Unlock()
	if already {
		return
	}

	if cancel != nil {
		cancel()
	}

	s.stateMu.Lock()
	for ch, conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, ch)
	}
	for ch := range s.states {
		s.states[ch] = Closed
		s.opts.Metrics.SetChannelState(s.id, string(ch), int(Closed))
	}
	s.stateMu.Unlock()

	if started {
		s.opts.Metrics.SessionClosed()
	} else {
		close(s.videoDone)
	}
	s.log.Info("session %s closed", s.runID)
}

// Wait blocks until every goroutine of the session has exited.
func (s *Session) Wait() {
	s.wg.Wait()
}

// State reports the session state derived from its channels.
func (s *Session) State() State {
	if s.closed.Load() {
		return Closed
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	all := Disconnected
	for _, st := range s.states {
		switch st {
		case Streaming:
			return Streaming
		case Connecting:
			all = Connecting
		}
	}
	return all
}

// ChannelState reports the state of one channel.
func (s *Session) ChannelState(ch backend.Channel) State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.states[ch]
}

func (s *Session) setState(ch backend.Channel, st State) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.states[ch] == Closed {
		return
	}
	s.states[ch] = st
	s.opts.Metrics.SetChannelState(s.id, string(ch), int(st))
}

// Detections returns the current detection set. The slice must not be modified.
func (s *Session) Detections() []types.Detection {
	return *s.detections.Load()
}

// Summary returns the latest scalar summary, or nil before the first message.
func (s *Session) Summary() *Summary {
	return s.summary.Load()
}

// History returns the session's metric series.
func (s *Session) History() *history.MetricSet {
	return s.history
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesReceived:  s.framesReceived.Load(),
		FramesRendered:  s.framesRendered.Load(),
		DecodeErrors:    s.decodeErrors.Load(),
		FramesDropped:   s.framesDropped.Load(),
		MessagesApplied: s.messagesApplied.Load(),
		ParseErrors:     s.parseErrors.Load(),
		PendingPayloads: s.pending.Load(),
	}
}

// Snapshot returns a copy of the render target, or nil before the first render.
func (s *Session) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return nil
	}
	cp := image.NewRGBA(s.target.Bounds())
	copy(cp.Pix, s.target.Pix)
	return cp
}

func (s *Session) runChannel(ch backend.Channel, handle func(int, []byte)) {
	conn, err := s.sub.Subscribe(s.ctx, ch, s.id)
	if err != nil {
		if s.closed.Load() {
			return
		}
		s.log.Warn("%s open failed: %v", ch, err)
		s.setState(ch, Disconnected)
		return
	}

	s.stateMu.Lock()
	if s.closed.Load() {
		s.stateMu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[ch] = conn
	s.stateMu.Unlock()

	s.setState(ch, Streaming)
	s.log.Info("%s connected", ch)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.log.Info("%s disconnected: %v", ch, err)
			s.stateMu.Lock()
			delete(s.conns, ch)
			s.stateMu.Unlock()
			_ = conn.Close()
			s.setState(ch, Disconnected)
			return
		}
		handle(mt, data)
	}
}

// handleFrame queues a payload for decoding without waiting for the decoder.
// When the queue is full the oldest queued frame is dropped.
func (s *Session) handleFrame(mt int, data []byte) {
	if mt != websocket.BinaryMessage {
		s.log.Debug("ignoring non-binary message on %s", backend.VideoChannel)
		return
	}
	s.framesReceived.Add(1)
	s.opts.Metrics.FrameReceived(s.id)

	s.frameSeq++
	h := newFrameHandle(s.frameSeq, data, &s.pending)
	for {
		select {
		case s.inbox <- h:
			return
		default:
		}
		select {
		case old := <-s.inbox:
			old.release()
			s.framesDropped.Add(1)
			s.opts.Metrics.FrameSkipped(s.id, metrics.SkipDropped)
		default:
		}
	}
}

func (s *Session) decodeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			// The video reader is the only producer; once it is gone nothing
			// can be queued behind the drain.
			<-s.videoDone
			for {
				select {
				case h := <-s.inbox:
					h.release()
					s.opts.Metrics.FrameSkipped(s.id, metrics.SkipClosed)
				default:
					return
				}
			}
		case h := <-s.inbox:
			s.render(h)
		}
	}
}

func (s *Session) render(h *frameHandle) {
	defer h.release()
	start := time.Now()

	img, err := s.opts.Decoder.Decode(s.ctx, h.Data)
	if err != nil {
		if s.closed.Load() {
			s.opts.Metrics.FrameSkipped(s.id, metrics.SkipClosed)
			return
		}
		s.decodeErrors.Add(1)
		s.opts.Metrics.FrameSkipped(s.id, metrics.SkipDecode)
		s.log.Debug("frame %d skipped: %v", h.Seq, err)
		return
	}

	h.Width, h.Height = img.Bounds().Dx(), img.Bounds().Dy()
	if size := image.Rect(0, 0, h.Width, h.Height); size != s.geometry {
		s.log.Info("frame geometry %dx%d (frame %d)", h.Width, h.Height, h.Seq)
		s.geometry = size
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		s.opts.Metrics.FrameSkipped(s.id, metrics.SkipClosed)
		return
	}

	dets := *s.detections.Load()
	s.target = s.opts.Compositor.Compose(s.target, img, dets)
	s.framesRendered.Add(1)
	s.opts.Metrics.FrameRendered(s.id, time.Since(start))

	if s.opts.Sink != nil {
		s.opts.Sink.PublishFrame(Rendered{
			SourceID:   s.id,
			Seq:        h.Seq,
			Image:      s.target,
			Detections: dets,
		})
	}
}

// handleDetection parses one detection record and, on success, swaps in its
// detection set and records its metrics. Malformed records change nothing,
// and nothing is applied or published once the session is closed.
func (s *Session) handleDetection(mt int, data []byte) {
	msg, err := ParseDetectionMessage(data)
	if err == nil && msg.SourceID != "" && msg.SourceID != s.id {
		err = fmt.Errorf("message for source %q on channel of %q", msg.SourceID, s.id)
	}
	if err != nil {
		s.parseErrors.Add(1)
		s.opts.Metrics.DetectionRejected(s.id)
		s.log.Warn("discarding detection message: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}

	dets := msg.Detections
	s.detections.Store(&dets)
	s.history.Record(msg)
	s.summary.Store(&Summary{
		FrameCount:   msg.FrameCount,
		SourceFPS:    msg.SourceFPS,
		VideoFPS:     msg.FPSVideo,
		DetectionFPS: msg.FPSYolo,
		DetectionMs:  msg.YoloMs,
		QueueDelayMs: msg.QueueDelayMs,
		Detections:   len(dets),
		UpdatedAt:    time.Now(),
	})
	s.messagesApplied.Add(1)
	s.opts.Metrics.DetectionApplied(s.id)

	if s.opts.Sink != nil {
		s.opts.Sink.PublishDetections(s.id, msg)
	}
}

// ParseDetectionMessage decodes one ws_yolo record. Confidences are clamped
// to [0,1].
func ParseDetectionMessage(data []byte) (*types.DetectionMessage, error) {
	var msg types.DetectionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse detection message: %w", err)
	}
	if msg.Detections == nil {
		msg.Detections = []types.Detection{}
	}
	for i := range msg.Detections {
		msg.Detections[i].Confidence = min(max(msg.Detections[i].Confidence, 0), 1)
	}
	return &msg, nil
}
