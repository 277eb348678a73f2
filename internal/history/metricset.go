package history

import "github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"

// Metric names one tracked per-source metric.
type Metric string

const (
	VideoFPS     Metric = "video_fps"
	DetectionFPS Metric = "yolo_fps"
	DetectionMs  Metric = "yolo_ms"
	QueueDelayMs Metric = "queue_ms"
)

// Metrics lists the tracked metrics in display order.
var Metrics = []Metric{VideoFPS, DetectionFPS, DetectionMs, QueueDelayMs}

// ParseMetric maps a metric name back to a Metric.
func ParseMetric(name string) (Metric, bool) {
	for _, m := range Metrics {
		if string(m) == name {
			return m, true
		}
	}
	return "", false
}

// MetricSet owns one Series per tracked metric for a single source.
type MetricSet struct {
	series map[Metric]*Series
}

// NewMetricSet creates the four series with the given capacity.
func NewMetricSet(capacity int) *MetricSet {
	ms := &MetricSet{series: make(map[Metric]*Series, len(Metrics))}
	for _, m := range Metrics {
		ms.series[m] = NewSeries(capacity)
	}
	return ms
}

// Record appends the four scalar metrics carried by msg.
func (ms *MetricSet) Record(msg *types.DetectionMessage) {
	ms.series[VideoFPS].Append(msg.FPSVideo)
	ms.series[DetectionFPS].Append(msg.FPSYolo)
	ms.series[DetectionMs].Append(msg.YoloMs)
	ms.series[QueueDelayMs].Append(msg.QueueDelayMs)
}

// Series returns the series for m, or nil for an unknown metric.
func (ms *MetricSet) Series(m Metric) *Series {
	return ms.series[m]
}

// Snapshot copies every series.
func (ms *MetricSet) Snapshot() map[Metric][]float64 {
	out := make(map[Metric][]float64, len(ms.series))
	for m, s := range ms.series {
		out[m] = s.Snapshot()
	}
	return out
}
