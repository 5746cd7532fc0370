package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gerkai/soaperNote/internal/capture"
	"github.com/gerkai/soaperNote/internal/config"
	"github.com/gerkai/soaperNote/internal/metrics"
	"github.com/gerkai/soaperNote/internal/pipeline"
	"github.com/gerkai/soaperNote/internal/recorder"
	"github.com/gerkai/soaperNote/internal/transcript"
)

// HTTPServer provides the control API, live feed and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	pipeline *pipeline.Manager
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader

	liveClients atomic.Int64
	startTime   time.Time
}

// NewHTTPServer creates a new HTTP API server. Metrics are served from gatherer.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	mgr *pipeline.Manager, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		pipeline:  mgr,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: /ws connections are long lived
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Read model
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/transcript", h.withMetrics("/transcript", h.handleTranscript))

	// Recording control
	mux.HandleFunc("/recording/start", h.withMetrics("/recording/start", h.handleStart))
	mux.HandleFunc("/recording/stop", h.withMetrics("/recording/stop", h.handleStop))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Live feed; upgraded connections bypass the status recorder
	mux.HandleFunc("/ws", h.handleWebSocket)

	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.pipeline.Snapshot()
	stats := h.pipeline.GetStats()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "soaper-note",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"recorder": map[string]any{
				"state":      snap.State,
				"next_index": snap.NextIndex,
				"last_error": snap.LastError,
			},
			"transcription": map[string]any{
				"backend":   stats.Dispatcher.Client.Backend,
				"submitted": stats.Dispatcher.Submitted,
				"failed":    stats.Dispatcher.Failed,
				"in_flight": stats.Dispatcher.InFlight,
			},
			"live_clients": h.liveClients.Load(),
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// handleTranscript implements the /transcript endpoint. Plain text is
// returned when the client asks for it.
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(h.pipeline.Transcript()))
		return
	}

	// Both fields come from one read of the entries
	entries := h.pipeline.Entries()
	writeJSON(w, http.StatusOK, map[string]any{
		"transcript": transcript.Join(entries),
		"entries":    entries,
	})
}

// handleStart implements POST /recording/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.pipeline.Start(r.Context()); err != nil {
		var initErr *capture.InitError
		switch {
		case errors.Is(err, recorder.ErrAlreadyRecording):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, pipeline.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err)
		case errors.As(err, &initErr):
			h.logger.Error("Failed to start recording", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// handleStop implements POST /recording/stop?transcribe=true|false. The
// final segment is transcribed unless transcribe=false.
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	transcribe := true
	if v := r.URL.Query().Get("transcribe"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid transcribe value %q", v))
			return
		}
		transcribe = parsed
	}

	segment, err := h.pipeline.Stop(transcribe)
	if errors.Is(err, recorder.ErrNotRecording) {
		writeError(w, http.StatusConflict, err)
		return
	}

	response := map[string]any{
		"status":     h.pipeline.Snapshot(),
		"transcribe": transcribe,
	}
	if segment.Path != "" {
		response["segment"] = map[string]any{
			"index":    segment.Index,
			"path":     segment.Path,
			"duration": segment.Duration.Seconds(),
		}
	}

	// A finalize failure still stops the recording
	if err != nil {
		h.logger.Warn("Final segment was not saved", slog.String("error", err.Error()))
		response["error"] = err.Error()
	}

	writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint with secrets masked
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":       time.Since(h.startTime).String(),
		"timestamp":    time.Now().UTC(),
		"live_clients": h.liveClients.Load(),
		"pipeline":     h.pipeline.GetStats(),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "Soaper Note Voice Capture Service",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":                 "API documentation",
			"GET /health":           "Service health check",
			"GET /status":           "Recording state, level and transcript",
			"GET /transcript":       "Ordered transcript and entries (?format=text for plain text)",
			"POST /recording/start": "Start recording",
			"POST /recording/stop":  "Stop recording (?transcribe=false discards the final segment)",
			"GET /config":           "Service configuration with secrets masked",
			"GET /stats":            "Service statistics",
			"GET /ws":               "Live status feed over WebSocket",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
