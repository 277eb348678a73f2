package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/health"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/stream"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type pipeMsg struct {
	mt   int
	data []byte
}

// pipeConn delivers messages pushed by the test until closed.
type pipeConn struct {
	msgs   chan pipeMsg
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{msgs: make(chan pipeMsg, 64), closed: make(chan struct{})}
}

func (c *pipeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.msgs:
		return m.mt, m.data, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// pipeSubscriber hands out one pipeConn per (channel, source).
type pipeSubscriber struct {
	mu    sync.Mutex
	conns map[string]*pipeConn
}

func newPipeSubscriber() *pipeSubscriber {
	return &pipeSubscriber{conns: make(map[string]*pipeConn)}
}

func (p *pipeSubscriber) conn(ch backend.Channel, id string) *pipeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := string(ch) + "/" + id
	c, ok := p.conns[key]
	if !ok {
		c = newPipeConn()
		p.conns[key] = c
	}
	return c
}

func (p *pipeSubscriber) Subscribe(ctx context.Context, ch backend.Channel, id string) (backend.Conn, error) {
	return p.conn(ch, id), nil
}

func (p *pipeSubscriber) sendFrame(t *testing.T, id string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 40
	}
	for x := range w {
		img.SetRGBA(x, 0, color.RGBA{A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	p.conn(backend.VideoChannel, id).msgs <- pipeMsg{websocket.BinaryMessage, buf.Bytes()}
}

func (p *pipeSubscriber) sendDetections(t *testing.T, msg types.DetectionMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	p.conn(backend.DetectionChannel, msg.SourceID).msgs <- pipeMsg{websocket.TextMessage, data}
}

type staticHealth struct{ view health.View }

func (s staticHealth) View() health.View { return s.view }

type fixture struct {
	sub     *pipeSubscriber
	hub     *Hub
	manager *stream.Manager
	server  *Server
}

func newFixture(t *testing.T, hv health.View, ids ...string) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RecordingOutputPath = t.TempDir()

	sub := newPipeSubscriber()
	hub := NewHub(cfg.JPEGQuality, cfg.RecordingOutputPath)
	mgr := stream.NewManager(sub, stream.Options{Sink: hub})

	sources := make([]types.SourceInfo, 0, len(ids))
	for _, id := range ids {
		sources = append(sources, types.SourceInfo{ID: id, Path: "/dev/" + id})
	}
	mgr.Open(context.Background(), sources)
	t.Cleanup(func() {
		mgr.Close()
		hub.Close()
	})

	return &fixture{
		sub:     sub,
		hub:     hub,
		manager: mgr,
		server:  NewServer(cfg, mgr, staticHealth{hv}, hub, nil),
	}
}

func (f *fixture) waitRendered(t *testing.T, id string, n uint64) {
	t.Helper()
	sess, err := f.manager.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sess.Stats().FramesRendered >= n }, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) waitApplied(t *testing.T, id string, n uint64) {
	t.Helper()
	sess, err := f.manager.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sess.Stats().MessagesApplied >= n }, 2*time.Second, 5*time.Millisecond)
}

func metricsMessage(id string, frame int64, yoloMs float64) types.DetectionMessage {
	return types.DetectionMessage{
		SourceID: id, FrameCount: frame, FPSVideo: 29.5, FPSYolo: 10, SourceFPS: 30,
		YoloMs: yoloMs, QueueDelayMs: 1.5,
		Detections: []types.Detection{{Class: 15, Confidence: 0.9, Box: [4]float64{2, 2, 20, 20}}},
	}
}
