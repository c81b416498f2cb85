package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Strange-Jackle/meeting-monitor/internal/config"
	"github.com/Strange-Jackle/meeting-monitor/internal/fanout"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
	"github.com/Strange-Jackle/meeting-monitor/internal/server"
	"github.com/Strange-Jackle/meeting-monitor/internal/session"
	"github.com/Strange-Jackle/meeting-monitor/internal/store"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "meeting-monitor"
	serviceVersion    = "1.0.0"

	shutdownTimeout = 30 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("http_address", cfg.HTTP.Address),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("window_duration", cfg.Audio.WindowDuration),
		slog.Float64("overlap_duration", cfg.Audio.OverlapDuration),
		slog.String("transcription_backend", cfg.Transcription.Backend),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("diarization", cfg.Transcription.Diarization),
		slog.String("insight_provider", cfg.Insight.Provider),
		slog.Bool("research", cfg.Insight.Research.Enabled),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Persistence
	db, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	writer := store.NewWriter(db, store.WriterConfig{
		QueueSize:  cfg.Storage.QueueSize,
		MaxRetries: cfg.Storage.MaxRetries,
		RetryBase:  cfg.Storage.GetRetryBase(),
		RetryMax:   cfg.Storage.GetRetryMax(),
	}, logger, appMetrics)

	// Event fan-out, optionally mirrored to Redis
	var relays []fanout.Relay
	if cfg.Fanout.RedisAddr != "" {
		relay, err := fanout.NewRedisRelay(ctx, fanout.RedisConfig{
			Addr:     cfg.Fanout.RedisAddr,
			Password: cfg.Fanout.RedisPassword,
			Channel:  cfg.Fanout.RedisChannel,
			Timeout:  cfg.Fanout.GetWriteTimeout(),
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect redis relay: %w", err)
		}
		relays = append(relays, relay)
		logger.Info("Redis relay initialized",
			slog.String("addr", cfg.Fanout.RedisAddr),
			slog.String("channel", cfg.Fanout.RedisChannel),
		)
	}
	broker := fanout.NewBroker(cfg.Fanout.SubscriberBuffer, logger, appMetrics, relays...)

	// Session machine
	backends, err := session.NewConfigBackends(cfg, logger, appMetrics)
	if err != nil {
		return err
	}
	machine, err := session.NewMachine(session.NewOptions(cfg), backends, broker, writer, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create session machine: %w", err)
	}

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Config:  cfg,
		Control: machine,
		History: db,
		Broker:  broker,
	}, logger, appMetrics)

	machineCtx, stopMachine := context.WithCancel(context.Background())
	defer stopMachine()

	g := new(errgroup.Group)
	g.Go(func() error {
		return machine.Run(machineCtx)
	})

	if err := httpServer.Start(); err != nil {
		stopMachine()
		g.Wait()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		slog.Bool("mcp", cfg.HTTP.MCPEnabled),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Finish the running session so its summary is persisted
	if id, err := machine.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping session",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}

	// Stop HTTP server (stop accepting new requests)
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	stopMachine()
	if err := g.Wait(); err != nil {
		logger.Error("Session machine error", slog.String("error", err.Error()))
	}

	if err := broker.Close(shutdownCtx); err != nil {
		logger.Error("Error closing event relays", slog.String("error", err.Error()))
	}
	if err := writer.Close(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Error draining persistence queue", slog.String("error", err.Error()))
	}

	stats := httpServer.CaptureStats()
	logger.Info("Final capture statistics",
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("frames_processed", stats.FramesProcessed),
		slog.Uint64("frames_dropped", stats.FramesDropped),
		slog.Uint64("decode_errors", stats.DecodeErrors),
	)

	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Add source info for debug level
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler).With(slog.String("service", serviceName))
}
