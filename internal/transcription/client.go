package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gerkai/soaperNote/internal/capture"
)

// Transcriber turns one finalized segment into text
type Transcriber interface {
	Transcribe(ctx context.Context, segment capture.Segment) (*Result, error)
	GetStats() ClientStats
}

// Result is a successful transcription
type Result struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Client provides HTTP client functionality for multipart transcription APIs
type Client struct {
	config     Config
	httpClient *http.Client
	stats      requestStats
}

// Config contains transcription client configuration
type Config struct {
	Endpoint  string
	APIKey    string
	Model     string
	Language  string
	Prompt    string
	Timeout   time.Duration
	UserAgent string
}

// transcriptionResponse is the JSON body returned by the transcription API.
// Text is a pointer so a missing field can be told apart from empty speech.
type transcriptionResponse struct {
	Text     *string `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Model == "" {
		config.Model = "whisper-1"
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.UserAgent == "" {
		config.UserAgent = "soaperNote/1.0"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Transcribe uploads a segment file and returns its text. There are no
// retries; a failed segment stays out of the transcript.
func (c *Client) Transcribe(ctx context.Context, segment capture.Segment) (*Result, error) {
	startTime := time.Now()
	c.stats.begin()

	result, err := c.doRequest(ctx, segment)

	c.stats.end(err == nil, time.Since(startTime))
	return result, err
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, segment capture.Segment) (*Result, error) {
	audioData, err := os.ReadFile(segment.Path)
	if err != nil {
		return nil, &RequestError{Index: segment.Index, Err: fmt.Errorf("read segment file: %w", err)}
	}

	body, contentType, err := c.createMultipartRequest(filepath.Base(segment.Path), audioData)
	if err != nil {
		return nil, &RequestError{Index: segment.Index, Err: fmt.Errorf("create multipart request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, &RequestError{Index: segment.Index, Err: fmt.Errorf("create HTTP request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Index: segment.Index, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Index: segment.Index, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ResponseError{
			Index:      segment.Index,
			StatusCode: resp.StatusCode,
			Body:       truncateBody(respBody),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &ResponseError{
			Index:      segment.Index,
			StatusCode: resp.StatusCode,
			Body:       truncateBody(respBody),
			Err:        fmt.Errorf("parse response JSON: %w", err),
		}
	}

	if parsed.Text == nil {
		return nil, &ResponseError{
			Index:      segment.Index,
			StatusCode: resp.StatusCode,
			Body:       truncateBody(respBody),
			Err:        errors.New("response has no text field"),
		}
	}

	return &Result{
		Text:     *parsed.Text,
		Language: parsed.Language,
		Duration: parsed.Duration,
	}, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(filename string, audioData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// CreateFormFile would label the part application/octet-stream
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", "audio/wav")

	fileWriter, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(audioData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", c.config.Model},
		{"response_format", "json"},
	}
	if c.config.Language != "" {
		fields = append(fields, [2]string{"language", c.config.Language})
	}
	if c.config.Prompt != "" {
		fields = append(fields, [2]string{"prompt", c.config.Prompt})
	}

	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	return c.stats.snapshot("http")
}
