package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gerkai/soaperNote/internal/capture"
)

// OpenAIConfig contains OpenAI transcription configuration
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string // Optional; any OpenAI-compatible server
	Model    string
	Language string
	Prompt   string
	Timeout  time.Duration
}

// OpenAIClient transcribes segments through the OpenAI audio API
type OpenAIClient struct {
	config OpenAIConfig
	client *openai.Client
	stats  requestStats
}

// NewOpenAIClient creates a transcriber backed by the OpenAI SDK
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout:   config.Timeout,
		Transport: textFieldTransport{base: http.DefaultTransport},
	}

	return &OpenAIClient{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Transcribe uploads a segment file and returns its text
func (c *OpenAIClient) Transcribe(ctx context.Context, segment capture.Segment) (*Result, error) {
	startTime := time.Now()
	c.stats.begin()

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.config.Model,
		FilePath: segment.Path,
		Language: c.config.Language,
		Prompt:   c.config.Prompt,
		Format:   openai.AudioResponseFormatJSON,
	})

	c.stats.end(err == nil, time.Since(startTime))

	if err != nil {
		return nil, classifyOpenAIError(segment.Index, err)
	}

	return &Result{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}

// GetStats returns current client statistics
func (c *OpenAIClient) GetStats() ClientStats {
	return c.stats.snapshot("openai")
}

// classifyOpenAIError maps SDK errors onto the transcription error taxonomy
func classifyOpenAIError(index int, err error) error {
	var textErr *missingTextError
	if errors.As(err, &textErr) {
		return &ResponseError{
			Index:      index,
			StatusCode: textErr.StatusCode,
			Body:       textErr.Body,
			Err:        errors.New("response has no text field"),
		}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ResponseError{Index: index, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ResponseError{Index: index, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	// A 2xx body the SDK could not decode
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &ResponseError{Index: index, Err: err}
	}

	return &RequestError{Index: index, Err: err}
}

// missingTextError is a 2xx JSON response without a text field
type missingTextError struct {
	StatusCode int
	Body       string
}

func (e *missingTextError) Error() string {
	return fmt.Sprintf("HTTP %d response has no text field", e.StatusCode)
}

// textFieldTransport rejects successful JSON responses that carry no text.
// The SDK decodes such a body into an empty transcription.
type textFieldTransport struct {
	base http.RoundTripper
}

func (t textFieldTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	// Bodies that are not a JSON object are left for the SDK to reject
	var fields map[string]json.RawMessage
	if json.Unmarshal(body, &fields) == nil {
		if text, ok := fields["text"]; !ok || string(text) == "null" {
			return nil, &missingTextError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}
