package backend

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Channel identifies one of the two per-source streaming channels.
type Channel string

const (
	VideoChannel     Channel = "ws_video"
	DetectionChannel Channel = "ws_yolo"
)

// Conn is the read side of a subscription. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Subscriber opens channel subscriptions for a source.
type Subscriber interface {
	Subscribe(ctx context.Context, ch Channel, sourceID string) (Conn, error)
}

// Dialer opens websocket subscriptions against streamURL/{channel}/{sourceID}.
type Dialer struct {
	streamURL string
	dialer    websocket.Dialer
}

// NewDialer returns a Dialer for a ws(s) base URL.
func NewDialer(streamURL string, handshakeTimeout time.Duration) *Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &Dialer{
		streamURL: strings.TrimRight(streamURL, "/"),
		dialer: websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			NetDialContext:   (&net.Dialer{Timeout: handshakeTimeout}).DialContext,
			ReadBufferSize:   64 << 10,
		},
	}
}

// URL returns the address of ch for sourceID.
func (d *Dialer) URL(ch Channel, sourceID string) string {
	return d.streamURL + "/" + string(ch) + "/" + url.PathEscape(sourceID)
}

// Subscribe dials the channel. The handshake response body is always closed.
func (d *Dialer) Subscribe(ctx context.Context, ch Channel, sourceID string) (Conn, error) {
	target := d.URL(ch, sourceID)
	conn, resp, err := d.dialer.DialContext(ctx, target, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", target, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}
