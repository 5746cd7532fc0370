package transcription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClientTranscribe(t *testing.T) {
	var gotPath, gotAuth, gotModel string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(10 << 20); err == nil {
			gotModel = r.FormValue("model")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "hello from whisper", "language": "english"}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIClient failed: %v", err)
	}

	result, err := client.Transcribe(context.Background(), writeSegment(t, 1))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "hello from whisper" {
		t.Errorf("Unexpected text %q", result.Text)
	}
	if gotPath != "/v1/audio/transcriptions" {
		t.Errorf("Unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Unexpected auth %q", gotAuth)
	}
	if gotModel != "whisper-1" {
		t.Errorf("Expected whisper-1, got %q", gotModel)
	}

	if stats := client.GetStats(); stats.Backend != "openai" || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestOpenAIClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited", "type": "requests"}}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIClient failed: %v", err)
	}

	_, err = client.Transcribe(context.Background(), writeSegment(t, 3))

	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("Expected ResponseError, got %v", err)
	}
	if respErr.StatusCode != http.StatusTooManyRequests || respErr.Index != 3 {
		t.Errorf("Unexpected error fields: %+v", respErr)
	}
}

func TestOpenAIClientRejectsBodyWithoutText(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"other field", `{"transcript": "hello"}`},
		{"null text", `{"text": null, "language": "english"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
			if err != nil {
				t.Fatalf("NewOpenAIClient failed: %v", err)
			}

			result, err := client.Transcribe(context.Background(), writeSegment(t, 4))

			var respErr *ResponseError
			if !errors.As(err, &respErr) {
				t.Fatalf("Expected ResponseError, got result %+v err %v", result, err)
			}
			if respErr.Index != 4 || respErr.StatusCode != http.StatusOK || respErr.Body != tt.body {
				t.Errorf("Unexpected error fields: %+v", respErr)
			}
			if stats := client.GetStats(); stats.FailedRequests != 1 {
				t.Errorf("Expected one failed request, got %+v", stats)
			}
		})
	}
}

func TestOpenAIClientRequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{}); err == nil {
		t.Error("Expected error without API key")
	}
}

func TestClassifyOpenAIError(t *testing.T) {
	var reqErr *RequestError
	if err := classifyOpenAIError(5, errors.New("dial tcp: connection refused")); !errors.As(err, &reqErr) {
		t.Errorf("Expected RequestError for transport failure, got %T", err)
	}
}
