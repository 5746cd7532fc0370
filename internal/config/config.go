package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SOAPER_TRANSCRIPTION_API_KEY
const EnvPrefix = "SOAPER_"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http" json:"http" envPrefix:"HTTP_"`
	Audio         AudioConfig         `yaml:"audio" json:"audio" envPrefix:"AUDIO_"`
	Detector      DetectorConfig      `yaml:"detector" json:"detector" envPrefix:"DETECTOR_"`
	Segmenter     SegmenterConfig     `yaml:"segmenter" json:"segmenter" envPrefix:"SEGMENTER_"`
	Transcription TranscriptionConfig `yaml:"transcription" json:"transcription" envPrefix:"TRANSCRIPTION_"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging" envPrefix:"LOGGING_"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port" env:"PORT" validate:"gte=0,lte=65535"`
	Address string `yaml:"address" json:"address" env:"ADDRESS"`
	Enabled bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
}

// AudioConfig contains audio capture parameters
type AudioConfig struct {
	SampleRate       int      `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE" validate:"oneof=8000 12000 16000 24000 44100 48000"`
	Channels         int      `yaml:"channels" json:"channels" env:"CHANNELS" validate:"eq=1"`
	SampleIntervalMs int      `yaml:"sample_interval_ms" json:"sample_interval_ms" env:"SAMPLE_INTERVAL_MS" validate:"gte=10,lte=1000"`
	SegmentDir       string   `yaml:"segment_dir" json:"segment_dir" env:"SEGMENT_DIR" validate:"required"`
	Device           string   `yaml:"device" json:"device" env:"DEVICE"`
	CaptureCommand   string   `yaml:"capture_command" json:"capture_command" env:"CAPTURE_COMMAND"`
	CaptureArgs      []string `yaml:"capture_args" json:"capture_args" env:"CAPTURE_ARGS" envSeparator:" "`
	InputFile        string   `yaml:"input_file" json:"input_file" env:"INPUT_FILE"` // raw S16LE PCM FIFO, or a file replayed in real time, instead of a command
}

// DetectorConfig contains adaptive silence detection parameters
type DetectorConfig struct {
	WindowSize int     `yaml:"window_size" json:"window_size" env:"WINDOW_SIZE" validate:"gte=1,lte=600"` // samples
	MarginDB   float64 `yaml:"margin_db" json:"margin_db" env:"MARGIN_DB" validate:"gt=0,lte=60"`
}

// SegmenterConfig contains segment rotation parameters
type SegmenterConfig struct {
	MinVoicedDuration  float64 `yaml:"min_voiced_duration" json:"min_voiced_duration" env:"MIN_VOICED_DURATION" validate:"gte=0"`    // seconds
	MinSegmentDuration float64 `yaml:"min_segment_duration" json:"min_segment_duration" env:"MIN_SEGMENT_DURATION" validate:"gte=0"` // seconds
	StartIndex         int     `yaml:"start_index" json:"start_index" env:"START_INDEX" validate:"gte=0"`
	FilePrefix         string  `yaml:"file_prefix" json:"file_prefix" env:"FILE_PREFIX" validate:"omitempty,alphanum"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Provider      string `yaml:"provider" json:"provider" env:"PROVIDER" validate:"oneof=http openai"`
	Endpoint      string `yaml:"endpoint" json:"endpoint" env:"ENDPOINT" validate:"omitempty,url"`
	BaseURL       string `yaml:"base_url" json:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	APIKey        string `yaml:"api_key" json:"api_key" env:"API_KEY"`
	Model         string `yaml:"model" json:"model" env:"MODEL" validate:"required"`
	Language      string `yaml:"language" json:"language" env:"LANGUAGE" validate:"omitempty,max=16"`
	Prompt        string `yaml:"prompt" json:"prompt" env:"PROMPT" validate:"omitempty,max=1000"`
	Timeout       int    `yaml:"timeout" json:"timeout" env:"TIMEOUT" validate:"gte=1,lte=600"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent" json:"max_concurrent" env:"MAX_CONCURRENT" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" env:"FORMAT" validate:"oneof=json text"`
	Output string `yaml:"output" json:"output" env:"OUTPUT"`
}

// Default returns a runnable configuration
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate:       12000,
			Channels:         1,
			SampleIntervalMs: 100,
			SegmentDir:       "./segments",
			Device:           "default",
		},
		Detector: DetectorConfig{
			WindowSize: 30,
			MarginDB:   10,
		},
		Segmenter: SegmenterConfig{
			MinVoicedDuration:  0.8,
			MinSegmentDuration: 0.5,
			StartIndex:         0,
			FilePrefix:         "segment",
		},
		Transcription: TranscriptionConfig{
			Provider: "http",
			Endpoint: "http://127.0.0.1:8081/v1/audio/transcriptions",
			Model:    "whisper-1",
			Timeout:  30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result. An empty path uses the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields from SOAPER_* environment variables
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("environment overrides are invalid: %w", err)
	}
	return nil
}

// Validate performs struct tag validation followed by cross-field checks
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			messages := make([]string, 0, len(validationErrors))
			for _, e := range validationErrors {
				messages = append(messages, fmt.Sprintf("%s %s", fieldPath(e), formatValidationMessage(e)))
			}
			return errors.New(strings.Join(messages, "; "))
		}
		return err
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	if s.MinVoicedDuration > 60 {
		return fmt.Errorf("min_voiced_duration must be at most 60 seconds, got %f", s.MinVoicedDuration)
	}

	if s.MinSegmentDuration > 60 {
		return fmt.Errorf("min_segment_duration must be at most 60 seconds, got %f", s.MinSegmentDuration)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Provider {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
	case "openai":
		if t.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for the openai provider")
		}
	}

	return nil
}

// Sanitized returns a copy safe to expose over the API
func (c *Config) Sanitized() Config {
	out := *c
	if out.Transcription.APIKey != "" {
		out.Transcription.APIKey = "***"
	}
	out.Audio.CaptureArgs = append([]string(nil), c.Audio.CaptureArgs...)
	return out
}

// GetSampleInterval returns the meter polling period as a time.Duration
func (a *AudioConfig) GetSampleInterval() time.Duration {
	return time.Duration(a.SampleIntervalMs) * time.Millisecond
}

// GetMinVoicedDuration returns the minimum voiced duration as a time.Duration
func (s *SegmenterConfig) GetMinVoicedDuration() time.Duration {
	return time.Duration(s.MinVoicedDuration * float64(time.Second))
}

// GetMinSegmentDuration returns the minimum segment duration as a time.Duration
func (s *SegmenterConfig) GetMinSegmentDuration() time.Duration {
	return time.Duration(s.MinSegmentDuration * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// fieldPath renders a validator namespace as a YAML-style key, e.g. audio.sample_rate
func fieldPath(e validator.FieldError) string {
	parts := strings.Split(e.StructNamespace(), ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// formatValidationMessage creates a human-readable message from a validator error
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "eq":
		return fmt.Sprintf("must be %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "alphanum":
		return "must be alphanumeric"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
