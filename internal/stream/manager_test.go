package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRegistry struct {
	sources []types.SourceInfo
	err     error
	calls   int
}

func (r *staticRegistry) Sources(ctx context.Context) ([]types.SourceInfo, error) {
	r.calls++
	return r.sources, r.err
}

// perSourceSubscriber hands every source its own pair of fake channels.
type perSourceSubscriber struct {
	subs map[string]*fakeSubscriber
}

func (p *perSourceSubscriber) Subscribe(ctx context.Context, ch backend.Channel, id string) (backend.Conn, error) {
	return p.subs[id].Subscribe(ctx, ch, id)
}

func TestActivateRegistryFailure(t *testing.T) {
	m := NewManager(newFakeSubscriber(), Options{})
	reg := &staticRegistry{err: errors.New("connection refused")}

	n, err := m.Activate(context.Background(), reg)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Empty(t, m.Sessions())
	assert.Empty(t, m.Sources())
	assert.Equal(t, 1, reg.calls, "no retry")
}

func TestActivateOpensOneSessionPerSource(t *testing.T) {
	sub := &perSourceSubscriber{subs: map[string]*fakeSubscriber{
		"cam1": newFakeSubscriber(),
		"cam2": newFakeSubscriber(),
	}}
	m := NewManager(sub, Options{})
	defer m.Close()

	reg := &staticRegistry{sources: []types.SourceInfo{{ID: "cam1", Path: "0"}, {ID: "cam2", Path: "b.mp4"}, {ID: "cam1"}}}
	n, err := m.Activate(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sessions := m.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "cam1", sessions[0].ID())
	assert.Equal(t, "cam2", sessions[1].ID())

	// Sessions are isolated: a message on cam1 never shows up on cam2.
	sub.subs["cam1"].detection().sendText(detectionJSON(t, types.DetectionMessage{
		FrameCount: 3, Detections: []types.Detection{{Class: 1, Confidence: 0.5}},
	}))
	s1, err := m.Get("cam1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s1.Summary() != nil }, waitFor, tick)
	s2, err := m.Get("cam2")
	require.NoError(t, err)
	assert.Nil(t, s2.Summary())
	assert.Empty(t, s2.Detections())

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestRemoveAndClose(t *testing.T) {
	sub := &perSourceSubscriber{subs: map[string]*fakeSubscriber{
		"cam1": newFakeSubscriber(),
		"cam2": newFakeSubscriber(),
	}}
	m := NewManager(sub, Options{})
	m.Open(context.Background(), []types.SourceInfo{{ID: "cam1"}, {ID: "cam2"}})

	s1, _ := m.Get("cam1")
	require.NoError(t, m.Remove("cam1"))
	assert.Equal(t, Closed, s1.State())
	assert.ErrorIs(t, m.Remove("cam1"), ErrUnknownSource)
	require.Len(t, m.Sources(), 1)

	s2, _ := m.Get("cam2")
	m.Close()
	assert.Equal(t, Closed, s2.State())
	assert.Empty(t, m.Sessions())
}

func TestSessionOverWebsocket(t *testing.T) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	frame := pngFrame(t, 48, 32)
	msg := detectionJSON(t, types.DetectionMessage{
		SourceID: "cam1", FrameCount: 1, FPSVideo: 30,
		Detections: []types.Detection{{Class: 5, Confidence: 0.75, Box: [4]float64{4, 14, 40, 30}}},
	})
	detectionSent := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		switch {
		case strings.HasPrefix(r.URL.Path, "/ws_yolo/cam1"):
			_ = c.WriteMessage(websocket.TextMessage, msg)
			close(detectionSent)
		case strings.HasPrefix(r.URL.Path, "/ws_video/cam1"):
			<-detectionSent
			time.Sleep(50 * time.Millisecond)
			_ = c.WriteMessage(websocket.BinaryMessage, frame)
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	base, err := backend.StreamURL(srv.URL)
	require.NoError(t, err)
	sink := newRecordingSink()
	s := NewSession("cam1", backend.NewDialer(base, time.Second), Options{Sink: sink})
	require.NoError(t, s.Start(context.Background()))
	defer func() {
		s.Close()
		s.Wait()
	}()

	sink.waitFrame(t)
	frames := sink.rendered()
	require.Len(t, frames, 1)
	assert.Equal(t, 48, frames[0].bounds.Dx())
	require.Len(t, frames[0].detections, 1)
	assert.Equal(t, 5, frames[0].detections[0].Class)
	assert.Equal(t, red, frames[0].img.RGBAAt(39, 20))
}
