package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeMsg struct {
	mt   int
	data []byte
}

// fakeConn delivers messages pushed by the test, in order.
type fakeConn struct {
	msgs      chan fakeMsg
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan fakeMsg, 256), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m, ok := <-c.msgs:
		if !ok {
			return 0, nil, io.EOF
		}
		return m.mt, m.data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) sendBinary(data []byte) { c.msgs <- fakeMsg{websocket.BinaryMessage, data} }
func (c *fakeConn) sendText(data []byte)   { c.msgs <- fakeMsg{websocket.TextMessage, data} }

type fakeSubscriber struct {
	conns map[backend.Channel]*fakeConn
	errs  map[backend.Channel]error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		conns: map[backend.Channel]*fakeConn{
			backend.VideoChannel:     newFakeConn(),
			backend.DetectionChannel: newFakeConn(),
		},
		errs: map[backend.Channel]error{},
	}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, ch backend.Channel, sourceID string) (backend.Conn, error) {
	if err := f.errs[ch]; err != nil {
		return nil, err
	}
	return f.conns[ch], nil
}

func (f *fakeSubscriber) video() *fakeConn     { return f.conns[backend.VideoChannel] }
func (f *fakeSubscriber) detection() *fakeConn { return f.conns[backend.DetectionChannel] }

type renderRecord struct {
	seq        uint64
	bounds     image.Rectangle
	detections []types.Detection
	img        *image.RGBA
}

// recordingSink copies every rendered frame so assertions can run after the call.
type recordingSink struct {
	mu       sync.Mutex
	frames   []renderRecord
	messages []*types.DetectionMessage
	notify   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 64)}
}

func (r *recordingSink) PublishFrame(f Rendered) {
	cp := image.NewRGBA(f.Image.Bounds())
	copy(cp.Pix, f.Image.Pix)
	r.mu.Lock()
	r.frames = append(r.frames, renderRecord{
		seq:        f.Seq,
		bounds:     f.Image.Bounds(),
		detections: f.Detections,
		img:        cp,
	})
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recordingSink) PublishDetections(sourceID string, msg *types.DetectionMessage) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

func (r *recordingSink) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recordingSink) rendered() []renderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]renderRecord(nil), r.frames...)
}

func (r *recordingSink) waitFrame(t *testing.T) {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for rendered frame")
	}
}

func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 40
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func detectionJSON(t *testing.T, msg types.DetectionMessage) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

var red = color.RGBA{R: 255, A: 255}
