package webmonitor

import (
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/logger"
)

// FrameBroadcaster manages fanout of one source's JPEG frames to multiple clients.
type FrameBroadcaster struct {
	mu       sync.Mutex
	sourceID string
	clients  map[int]chan []byte
	nextID   int
	latest   []byte
	closed   bool
}

// NewFrameBroadcaster creates an empty broadcaster for sourceID.
func NewFrameBroadcaster(sourceID string) *FrameBroadcaster {
	return &FrameBroadcaster{
		sourceID: sourceID,
		clients:  make(map[int]chan []byte),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The last broadcast frame, if any, is queued immediately.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.closed {
		close(ch)
		return id, ch
	}
	if fb.latest != nil {
		ch <- fb.latest
	}
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "[%s] Client #%d subscribed (total clients: %d)", fb.sourceID, id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "[%s] Client #%d unsubscribed (remaining clients: %d)", fb.sourceID, id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "[%s] No clients remaining - JPEG encoding will be skipped", fb.sourceID)
		}
	}
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Latest returns the last broadcast frame.
func (fb *FrameBroadcaster) Latest() ([]byte, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.latest, fb.latest != nil
}

// Broadcast sends data to every client, skipping clients that are too slow.
func (fb *FrameBroadcaster) Broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		return
	}
	fb.latest = data
	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// Close disconnects every client.
func (fb *FrameBroadcaster) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		return
	}
	fb.closed = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	SourceID     string
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

type eventClient struct {
	sourceID string // empty receives every source
	ch       chan *SerializedEvent
}

// DetectionBroadcaster manages fanout of detection events to SSE clients,
// optionally filtered to one source.
type DetectionBroadcaster struct {
	mu      sync.Mutex
	clients map[int]eventClient
	nextID  int
	closed  bool
}

// NewDetectionBroadcaster creates a broadcaster for detection events.
func NewDetectionBroadcaster() *DetectionBroadcaster {
	return &DetectionBroadcaster{clients: make(map[int]eventClient)}
}

// Subscribe adds a client for sourceID ("" for all sources).
func (db *DetectionBroadcaster) Subscribe(sourceID string) (int, <-chan *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextID
	db.nextID++
	ch := make(chan *SerializedEvent, 8)
	if db.closed {
		close(ch)
		return id, ch
	}
	db.clients[id] = eventClient{sourceID: sourceID, ch: ch}

	logger.Debug("DetectionBroadcaster", "Client #%d subscribed to %q (total clients: %d)", id, sourceID, len(db.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (db *DetectionBroadcaster) Unsubscribe(id int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c, ok := db.clients[id]; ok {
		close(c.ch)
		delete(db.clients, id)
		logger.Debug("DetectionBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(db.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (db *DetectionBroadcaster) ClientCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.clients)
}

// Broadcast delivers event to every client subscribed to its source.
func (db *DetectionBroadcaster) Broadcast(event *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, c := range db.clients {
		if c.sourceID != "" && c.sourceID != event.SourceID {
			continue
		}
		select {
		case c.ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}

// Close disconnects every client.
func (db *DetectionBroadcaster) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return
	}
	db.closed = true
	for id, c := range db.clients {
		close(c.ch)
		delete(db.clients, id)
	}
}
