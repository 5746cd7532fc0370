package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gerkai/soaperNote/internal/audio"
)

func upload(t *testing.T, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(data)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestHandleTranscribe(t *testing.T) {
	m := &mockTranscriber{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	wav, err := audio.EncodeWAV(make([]int16, 24000), 12000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	stereo := bytes.Clone(wav)
	binary.LittleEndian.PutUint16(stereo[22:], 2)

	tests := []struct {
		name     string
		req      *http.Request
		text     string
		status   int
		wantText string
		wantLang string
	}{
		{
			name:     "describes segment",
			req:      upload(t, "segment-00001.wav", wav, nil),
			status:   http.StatusOK,
			wantText: "Mock transcription of segment-00001.wav (2.0s).",
			wantLang: "en",
		},
		{
			name:     "fixed text and language",
			req:      upload(t, "segment-00002.wav", wav, map[string]string{"language": "uk", "model": "whisper-1"}),
			text:     "hello",
			status:   http.StatusOK,
			wantText: "hello",
			wantLang: "uk",
		},
		{
			name:   "invalid wav",
			req:    upload(t, "broken.wav", []byte("not audio"), nil),
			status: http.StatusBadRequest,
		},
		{
			name:   "stereo wav",
			req:    upload(t, "stereo.wav", stereo, nil),
			status: http.StatusBadRequest,
		},
		{
			name:   "wrong method",
			req:    httptest.NewRequest(http.MethodGet, "/v1/audio/transcriptions", nil),
			status: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.text = tt.text
			rec := httptest.NewRecorder()
			m.handleTranscribe(rec, tt.req)

			if rec.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}

			var resp transcriptionResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Text != tt.wantText || resp.Language != tt.wantLang || resp.Duration != 2 {
				t.Errorf("Unexpected response: %+v", resp)
			}
		})
	}
}
