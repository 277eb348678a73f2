package webmonitor

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the runtime configuration for the live monitor.
type Config struct {
	Addr                string        `yaml:"addr"`
	BackendURL          string        `yaml:"backend_url"`
	StreamURL           string        `yaml:"stream_url"` // derived from BackendURL when empty
	HealthInterval      time.Duration `yaml:"health_interval"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	HistoryLen          int           `yaml:"history_len"`
	DecodeQueue         int           `yaml:"decode_queue"`
	JPEGQuality         int           `yaml:"jpeg_quality"`
	SparklineWidth      int           `yaml:"sparkline_width"`
	SparklineHeight     int           `yaml:"sparkline_height"`
	RecordingOutputPath string        `yaml:"recording_output_path"`
	LogLevel            string        `yaml:"log_level"`
}

// DefaultConfig returns a config for a backend on the local machine.
func DefaultConfig() Config {
	return Config{
		Addr:                ":8090",
		BackendURL:          "http://localhost:8000",
		HealthInterval:      time.Second,
		RequestTimeout:      5 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		HistoryLen:          100,
		DecodeQueue:         2,
		JPEGQuality:         75,
		SparklineWidth:      110,
		SparklineHeight:     50,
		RecordingOutputPath: "./recordings",
		LogLevel:            "info",
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the file keep their value.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the monitor cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend_url is required"))
	}
	if c.HealthInterval <= 0 {
		errs = append(errs, fmt.Errorf("health_interval must be positive, got %v", c.HealthInterval))
	}
	if c.HistoryLen <= 0 {
		errs = append(errs, fmt.Errorf("history_len must be positive, got %d", c.HistoryLen))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality must be in 1..100, got %d", c.JPEGQuality))
	}
	if c.SparklineWidth < 3 || c.SparklineHeight < 3 {
		errs = append(errs, fmt.Errorf("sparkline size %dx%d too small", c.SparklineWidth, c.SparklineHeight))
	}
	return errors.Join(errs...)
}
