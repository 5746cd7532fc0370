// Command mock-transcriber serves a local stand-in for an OpenAI-compatible
// /v1/audio/transcriptions endpoint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gerkai/soaperNote/internal/audio"
)

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

type mockTranscriber struct {
	text   string
	delay  time.Duration
	logger *slog.Logger
}

func (m *mockTranscriber) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid WAV: %v", err), http.StatusBadRequest)
		return
	}

	// The service only ever uploads mono PCM-16
	samples, _, err := audio.DecodeWAV(data)
	if err != nil {
		http.Error(w, fmt.Sprintf("Unsupported WAV: %v", err), http.StatusBadRequest)
		return
	}

	m.logger.Info("Transcription request received",
		slog.String("request_id", r.Header.Get("X-Request-ID")),
		slog.String("filename", header.Filename),
		slog.String("model", r.FormValue("model")),
		slog.String("language", r.FormValue("language")),
		slog.Int("audio_bytes", len(data)),
		slog.Int("samples", len(samples)),
		slog.Duration("duration", info.Duration),
	)

	// Simulate processing time
	time.Sleep(m.delay)

	text := m.text
	if text == "" {
		text = fmt.Sprintf("Mock transcription of %s (%.1fs).", header.Filename, info.Duration.Seconds())
	}

	language := r.FormValue("language")
	if language == "" {
		language = "en"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transcriptionResponse{
		Text:     text,
		Language: language,
		Duration: info.Duration.Seconds(),
	})
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8081", "Listen address")
	text := flag.String("text", "", "Fixed transcript text (default describes the segment)")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	m := &mockTranscriber{text: *text, delay: *delay, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", m.handleTranscribe)

	logger.Info("Mock transcription server starting",
		slog.String("endpoint", fmt.Sprintf("http://%s/v1/audio/transcriptions", *addr)),
	)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
