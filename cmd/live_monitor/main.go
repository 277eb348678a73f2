package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/health"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/stream"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/webmonitor"
)

func main() {
	cfg := webmonitor.DefaultConfig()

	var configPath string
	var logColor bool

	flag.StringVar(&configPath, "config", "", "YAML config file (flags override its values)")
	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "Backend base URL serving /sources and /health")
	flag.StringVar(&cfg.StreamURL, "stream-url", cfg.StreamURL, "Websocket base URL (default: derived from -backend)")
	flag.DurationVar(&cfg.HealthInterval, "health-interval", cfg.HealthInterval, "Health poll period")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Backend HTTP request timeout")
	flag.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Websocket handshake timeout")
	flag.IntVar(&cfg.HistoryLen, "history", cfg.HistoryLen, "Samples kept per sparkline")
	flag.IntVar(&cfg.DecodeQueue, "decode-queue", cfg.DecodeQueue, "Frames queued per source before the oldest is dropped")
	flag.IntVar(&cfg.JPEGQuality, "jpeg-quality", cfg.JPEGQuality, "JPEG quality of composited output")
	flag.StringVar(&cfg.RecordingOutputPath, "record-path", cfg.RecordingOutputPath, "Recording output path")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	if configPath != "" {
		if err := webmonitor.LoadFile(configPath, &cfg); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
		// Re-apply flags so the command line wins over the file.
		if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
			log.Fatalf("Invalid flags: %v", err)
		}
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if cfg.StreamURL == "" {
		if cfg.StreamURL, err = backend.StreamURL(cfg.BackendURL); err != nil {
			log.Fatalf("Invalid backend URL: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("live monitor: %v", err)
	}
}

func run(ctx context.Context, cfg webmonitor.Config) error {
	m := metrics.New()
	client := backend.NewClient(cfg.BackendURL, cfg.RequestTimeout)
	dialer := backend.NewDialer(cfg.StreamURL, cfg.HandshakeTimeout)
	hub := webmonitor.NewHub(cfg.JPEGQuality, cfg.RecordingOutputPath)

	manager := stream.NewManager(dialer, stream.Options{
		HistoryLen:  cfg.HistoryLen,
		DecodeQueue: cfg.DecodeQueue,
		Sink:        hub,
		Metrics:     m,
	})

	logger.Info("Main", "Live monitor starting (log level: %s)", logger.GetLevel())
	logger.Info("Main", "Backend: %s, streams: %s", cfg.BackendURL, cfg.StreamURL)

	// The source set is fetched once; a failure leaves the dashboard with health only.
	if n, err := manager.Activate(ctx, client); err != nil {
		logger.Warn("Main", "No sessions opened: %v", err)
	} else {
		logger.Info("Main", "Opened %d source sessions", n)
	}

	poller := health.NewPoller(client, cfg.HealthInterval, m)
	go poller.Run(ctx)

	server := webmonitor.NewServer(cfg, manager, poller, hub, m)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Main", "Live monitor listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutting down...")
	case serveErr = <-errCh:
	}

	manager.Close()
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}

	logger.Info("Main", "Live monitor stopped")
	return serveErr
}
