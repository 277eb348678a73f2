// Package health keeps the fleet-wide health table fresh.
package health

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
)

// DefaultInterval is the refresh period of the health table.
const DefaultInterval = time.Second

// Fetcher returns the current fleet health map.
type Fetcher interface {
	Health(ctx context.Context) (types.HealthResponse, error)
}

// Row is one display row of the health table.
type Row struct {
	Source       string  `json:"source"`
	Alive        bool    `json:"alive"`
	LastFrameAge string  `json:"last_frame_age_ms"` // milliseconds, or "n/a"
	SourceFPS    float64 `json:"source_fps"`
	VideoFPS     float64 `json:"video_fps"`
	YoloFPS      float64 `json:"yolo_fps"`
	YoloMs       float64 `json:"yolo_ms"`
	QueueDelayMs float64 `json:"queue_delay_ms"`
	FrameCount   int64   `json:"frame_count"`
}

// View is what the table shows: the last good map plus the current error.
type View struct {
	Entries   types.HealthResponse `json:"entries"`
	Rows      []Row                `json:"rows"`
	Error     string               `json:"error,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// FormatAge renders a last_frame_age given in seconds as whole milliseconds.
func FormatAge(seconds *float64) string {
	if seconds == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*seconds*1000, 'f', 0, 64)
}

// Rows converts a health map into rows sorted by source id.
func Rows(entries types.HealthResponse) []Row {
	rows := make([]Row, 0, len(entries))
	for id, e := range entries {
		rows = append(rows, Row{
			Source:       id,
			Alive:        e.Alive,
			LastFrameAge: FormatAge(e.LastFrameAge),
			SourceFPS:    e.SourceFPS,
			VideoFPS:     e.VideoFPS,
			YoloFPS:      e.YoloFPS,
			YoloMs:       e.YoloMs,
			QueueDelayMs: e.QueueDelayMs,
			FrameCount:   e.FrameCount,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Source < rows[j].Source })
	return rows
}

// Poller fetches health immediately on Run and then every interval.
// A failed fetch keeps the previous map and sets the error; the next success clears it.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	entries   types.HealthResponse
	err       string
	updatedAt time.Time
}

// NewPoller creates a poller; a non-positive interval uses DefaultInterval.
func NewPoller(fetcher Fetcher, interval time.Duration, m *metrics.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		metrics:  m,
		entries:  types.HealthResponse{},
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	logger.Info("Health", "Polling health every %v", p.interval)
	p.Tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick performs one fetch and applies its result.
func (p *Poller) Tick(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, p.interval*5)
	defer cancel()

	start := time.Now()
	entries, err := p.fetcher.Health(reqCtx)
	p.metrics.HealthPolled(err, time.Since(start))

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if p.err == "" {
			logger.Warn("Health", "Failed to fetch /health: %v", err)
		}
		p.err = "Failed to fetch /health: " + err.Error()
		return
	}
	if p.err != "" {
		logger.Info("Health", "Health fetch recovered")
	}
	if entries == nil {
		entries = types.HealthResponse{}
	}
	p.entries = entries
	p.err = ""
	p.updatedAt = time.Now()
}

// View returns the current table state.
func (p *Poller) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return View{
		Entries:   p.entries,
		Rows:      Rows(p.entries),
		Error:     p.err,
		UpdatedAt: p.updatedAt,
	}
}
