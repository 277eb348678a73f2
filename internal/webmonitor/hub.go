package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/stream"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Hub receives every session's output and fans it out to HTTP clients and recorders.
type Hub struct {
	quality    int
	outputPath string

	mu         sync.Mutex
	frames     map[string]*FrameBroadcaster
	recorders  map[string]*recorder.Recorder
	detections *DetectionBroadcaster
}

var _ stream.Sink = (*Hub)(nil)

// NewHub creates a hub encoding JPEGs at quality and recording into outputPath.
func NewHub(quality int, outputPath string) *Hub {
	return &Hub{
		quality:    quality,
		outputPath: outputPath,
		frames:     make(map[string]*FrameBroadcaster),
		recorders:  make(map[string]*recorder.Recorder),
		detections: NewDetectionBroadcaster(),
	}
}

// Frames returns the frame broadcaster of sourceID, creating it on first use.
func (h *Hub) Frames(sourceID string) *FrameBroadcaster {
	h.mu.Lock()
	defer h.mu.Unlock()

	fb, ok := h.frames[sourceID]
	if !ok {
		fb = NewFrameBroadcaster(sourceID)
		h.frames[sourceID] = fb
	}
	return fb
}

// Detections returns the shared detection event broadcaster.
func (h *Hub) Detections() *DetectionBroadcaster {
	return h.detections
}

func (h *Hub) recorderFor(sourceID string, create bool) *recorder.Recorder {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.recorders[sourceID]
	if !ok && create {
		rec = recorder.NewRecorder(sourceID, h.outputPath)
		h.recorders[sourceID] = rec
	}
	return rec
}

// PublishFrame encodes a composited frame once and hands it to viewers and the recorder.
// Encoding is skipped while nobody is watching or recording.
func (h *Hub) PublishFrame(f stream.Rendered) {
	fb := h.Frames(f.SourceID)
	rec := h.recorderFor(f.SourceID, false)
	recording := rec != nil && rec.IsRecording()
	if fb.ClientCount() == 0 && !recording {
		return
	}

	data, err := overlay.EncodeJPEG(f.Image, h.quality)
	if err != nil {
		logger.Warn("Hub", "[%s] JPEG encode failed for frame %d: %v", f.SourceID, f.Seq, err)
		return
	}
	fb.Broadcast(data)
	if recording && !rec.SendFrame(data) {
		logger.Debug("Hub", "[%s] Recorder busy, frame %d not recorded", f.SourceID, f.Seq)
	}
}

// PublishDetections pre-serializes a detection message to both formats and broadcasts it.
func (h *Hub) PublishDetections(sourceID string, msg *types.DetectionMessage) {
	if h.detections.ClientCount() == 0 {
		return
	}
	event, err := serializeDetections(sourceID, msg)
	if err != nil {
		logger.Error("Hub", "[%s] Serialize detections: %v", sourceID, err)
		return
	}
	h.detections.Broadcast(event)
}

func serializeDetections(sourceID string, msg *types.DetectionMessage) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	// The protobuf form is a google.protobuf.Struct carrying the same fields.
	pbEvent := &structpb.Struct{}
	if err := pbEvent.UnmarshalJSON(jsonData); err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		SourceID:     sourceID,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// StartRecording begins recording sourceID's composited frames.
func (h *Hub) StartRecording(sourceID string) (string, error) {
	return h.recorderFor(sourceID, true).Start()
}

// StopRecording ends sourceID's recording.
func (h *Hub) StopRecording(sourceID string) (string, error) {
	rec := h.recorderFor(sourceID, false)
	if rec == nil {
		return "", recorder.ErrNotRecording
	}
	return rec.Stop()
}

// RecordingStatus returns the status of every source that has been recorded, sorted by source.
func (h *Hub) RecordingStatus() []recorder.Status {
	h.mu.Lock()
	recs := make([]*recorder.Recorder, 0, len(h.recorders))
	for _, rec := range h.recorders {
		recs = append(recs, rec)
	}
	h.mu.Unlock()

	out := make([]recorder.Status, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Close stops every recording and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	frames := h.frames
	recs := h.recorders
	h.frames = make(map[string]*FrameBroadcaster)
	h.recorders = make(map[string]*recorder.Recorder)
	h.mu.Unlock()

	for id, rec := range recs {
		if err := rec.Close(); err != nil {
			logger.Warn("Hub", "[%s] Close recorder: %v", id, err)
		}
	}
	for _, fb := range frames {
		fb.Close()
	}
	h.detections.Close()
}
