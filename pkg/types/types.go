package types

import "time"

// SourceInfo is one entry of the backend's GET /sources listing.
type SourceInfo struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// SourcesResponse is the body of GET /sources.
type SourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}

// Detection is one predicted object in the coordinate space of the latest frame.
type Detection struct {
	Class      int        `json:"cls"`
	Confidence float64    `json:"conf"`
	Box        [4]float64 `json:"xyxy"` // x1, y1, x2, y2
}

// DetectionMessage is one record received on the ws_yolo channel.
type DetectionMessage struct {
	SourceID     string      `json:"source_id"`
	FrameCount   int64       `json:"frame_count"`
	FPSVideo     float64     `json:"fps_video"`
	FPSYolo      float64     `json:"fps_yolo"`
	SourceFPS    float64     `json:"source_fps"`
	YoloMs       float64     `json:"yolo_ms"`
	QueueDelayMs float64     `json:"queue_delay_ms"`
	Detections   []Detection `json:"detections"`
}

// HealthEntry is the per-source liveness record of GET /health.
// LastFrameAge is in seconds and nil when the source has not produced a frame yet.
type HealthEntry struct {
	Alive        bool     `json:"alive"`
	LastFrameAge *float64 `json:"last_frame_age"`
	SourceFPS    float64  `json:"source_fps"`
	VideoFPS     float64  `json:"video_fps"`
	YoloFPS      float64  `json:"yolo_fps"`
	FrameCount   int64    `json:"frame_count"`
	YoloMs       float64  `json:"yolo_ms"`
	QueueDelayMs float64  `json:"queue_delay_ms"`
}

// HealthResponse is the body of GET /health, keyed by source id.
type HealthResponse map[string]HealthEntry

// Frame is one encoded still received on the ws_video channel.
// Width and Height are only known once the payload has been decoded.
type Frame struct {
	Data     []byte    // Encoded image (JPEG in practice)
	Seq      uint64    // Receive order within the session
	Received time.Time // Local receive time
	Width    int
	Height   int
}
