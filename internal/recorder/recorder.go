// Package recorder writes a source's composited frames to disk as MJPEG.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/logger"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is active.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = errors.New("not recording")
)

// Recorder records JPEG frames of one source into a concatenated .mjpeg file.
type Recorder struct {
	// lifecycle serialises Start and Stop; mu guards the fields below.
	lifecycle    sync.Mutex
	mu           sync.RWMutex
	sourceID     string
	basePath     string
	file         *os.File
	filename     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	startTime    time.Time
	frameChan    chan []byte
	stopChan     chan struct{}
	writerDone   chan struct{}
	now          func() time.Time
}

// NewRecorder creates a recorder writing into basePath.
func NewRecorder(sourceID, basePath string) *Recorder {
	return &Recorder{
		sourceID: sourceID,
		basePath: basePath,
		now:      time.Now,
	}
}

// Start opens a new file and begins accepting frames.
func (r *Recorder) Start() (string, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	start := r.now()
	filename := fmt.Sprintf("%s_%s.mjpeg", r.sourceID, start.Format("20060102_150405.000"))
	path := filepath.Join(r.basePath, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.filename = path
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.startTime = start
	r.frameChan = make(chan []byte, 60) // ~2s at 30 fps
	r.stopChan = make(chan struct{})
	r.writerDone = make(chan struct{})

	go r.writeFrames(r.file, r.frameChan, r.stopChan, r.writerDone)

	logger.Info("Recorder", "[%s] Recording to %s", r.sourceID, path)
	return path, nil
}

// Stop ends the recording, flushing queued frames, and returns the file path.
func (r *Recorder) Stop() (string, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.recording = false
	close(r.stopChan)
	file, path, done := r.file, r.filename, r.writerDone
	r.file = nil
	r.mu.Unlock()

	<-done

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return path, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		return path, fmt.Errorf("failed to close file: %w", err)
	}

	st := r.Status()
	logger.Info("Recorder", "[%s] Stopped: %d frames, %d bytes", r.sourceID, st.FrameCount, st.BytesWritten)
	return path, nil
}

// SendFrame queues an encoded JPEG without blocking; false means it was not taken.
func (r *Recorder) SendFrame(jpeg []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}
	select {
	case r.frameChan <- jpeg:
		return true
	default:
		return false
	}
}

func (r *Recorder) writeFrames(file *os.File, frames <-chan []byte, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case data := <-frames:
			r.writeFrame(file, data)
		case <-stop:
			for {
				select {
				case data := <-frames:
					r.writeFrame(file, data)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(file *os.File, data []byte) {
	n, err := file.Write(data)
	if err != nil {
		logger.Warn("Recorder", "[%s] Write failed: %v", r.sourceID, err)
		return
	}

	r.mu.Lock()
	r.bytesWritten += uint64(n)
	r.frameCount++
	r.mu.Unlock()
}

// IsRecording reports whether a recording is active.
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status returns the current recording status.
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = r.now().Sub(r.startTime)
	}
	return Status{
		SourceID:     r.sourceID,
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops an active recording.
func (r *Recorder) Close() error {
	if _, err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		return err
	}
	return nil
}

// Status holds the current recording status.
type Status struct {
	SourceID     string    `json:"source"`
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
