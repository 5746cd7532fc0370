package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gerkai/soaperNote/internal/capture"
	"github.com/gerkai/soaperNote/internal/config"
	"github.com/gerkai/soaperNote/internal/metrics"
	"github.com/gerkai/soaperNote/internal/pipeline"
	"github.com/gerkai/soaperNote/internal/recorder"
	"github.com/gerkai/soaperNote/internal/server"
	"github.com/gerkai/soaperNote/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "soaper-note"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty for defaults and environment only)")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the environment is read")
	autostart := flag.Bool("autostart", false, "Start recording as soon as the service is up")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Configuration summary without secrets
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Duration("sample_interval", cfg.Audio.GetSampleInterval()),
		slog.String("segment_dir", cfg.Audio.SegmentDir),
		slog.Int("window_size", cfg.Detector.WindowSize),
		slog.Float64("margin_db", cfg.Detector.MarginDB),
		slog.Duration("min_voiced_duration", cfg.Segmenter.GetMinVoicedDuration()),
		slog.Duration("min_segment_duration", cfg.Segmenter.GetMinSegmentDuration()),
		slog.Int("start_index", cfg.Segmenter.StartIndex),
		slog.String("transcription_provider", cfg.Transcription.Provider),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	transcriber, err := newTranscriber(cfg.Transcription)
	if err != nil {
		logger.Error("Failed to create transcriber", slog.String("error", err.Error()))
		os.Exit(1)
	}

	source := pipeline.HandleSource{
		Input: newInput(cfg.Audio),
		Config: capture.Config{
			Dir:        cfg.Audio.SegmentDir,
			SampleRate: cfg.Audio.SampleRate,
			FilePrefix: cfg.Segmenter.FilePrefix,
		},
		Logger: logger,
	}

	pipelineConfig := pipeline.Config{
		Recorder: recorder.Config{
			SampleInterval:     cfg.Audio.GetSampleInterval(),
			WindowSize:         cfg.Detector.WindowSize,
			SilenceMargin:      cfg.Detector.MarginDB,
			MinVoicedDuration:  cfg.Segmenter.GetMinVoicedDuration(),
			MinSegmentDuration: cfg.Segmenter.GetMinSegmentDuration(),
			StartIndex:         cfg.Segmenter.StartIndex,
		},
		Dispatcher: transcription.DispatcherConfig{
			MaxConcurrent: cfg.Transcription.MaxConcurrent,
		},
	}

	mgr, err := pipeline.NewManager(pipelineConfig, source, transcriber, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Pipeline initialized",
		slog.String("segment_dir", cfg.Audio.SegmentDir),
		slog.Int("max_concurrent_transcriptions", cfg.Transcription.MaxConcurrent),
	)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, mgr, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if *autostart {
		if err := mgr.Start(ctx); err != nil {
			logger.Error("Failed to start recording", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Bool("recording", mgr.Snapshot().IsRecording),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Transcription.GetTimeoutDuration()+10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Discards the live segment and waits for in-flight transcriptions
	if err := mgr.Close(shutdownCtx); err != nil {
		logger.Error("Error closing pipeline", slog.String("error", err.Error()))
	}

	stats := mgr.GetStats()
	logger.Info("Final pipeline statistics",
		slog.Uint64("recordings", stats.Recordings),
		slog.Uint64("segments_submitted", stats.Recorder.SegmentsSubmitted),
		slog.Uint64("transcriptions_succeeded", stats.Dispatcher.Succeeded),
		slog.Uint64("transcriptions_failed", stats.Dispatcher.Failed),
		slog.Int("transcript_entries", stats.Transcript.Entries),
	)

	logger.Info("Service stopped")
}

// newInput selects the PCM source: a FIFO or a file replayed in real time, an
// explicit capture command, or arecord on the configured device.
func newInput(cfg config.AudioConfig) capture.Input {
	switch {
	case cfg.InputFile != "":
		return capture.FileInput{Path: cfg.InputFile, SampleRate: cfg.SampleRate}
	case cfg.CaptureCommand != "":
		return capture.CommandInput{Command: cfg.CaptureCommand, Args: cfg.CaptureArgs}
	default:
		return capture.BuildCaptureCommand(cfg.Device, cfg.SampleRate)
	}
}

// newTranscriber creates the speech-to-text backend for the configured provider
func newTranscriber(cfg config.TranscriptionConfig) (transcription.Transcriber, error) {
	switch cfg.Provider {
	case "openai":
		return transcription.NewOpenAIClient(transcription.OpenAIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Language: cfg.Language,
			Prompt:   cfg.Prompt,
			Timeout:  cfg.GetTimeoutDuration(),
		})
	default:
		return transcription.NewClient(transcription.Config{
			Endpoint:  cfg.Endpoint,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Language:  cfg.Language,
			Prompt:    cfg.Prompt,
			Timeout:   cfg.GetTimeoutDuration(),
			UserAgent: serviceName + "/" + serviceVersion,
		})
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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

	return slog.New(handler)
}
