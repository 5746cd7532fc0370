package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/gerkai/soaperNote/internal/audio"
)

const (
	// DefaultMargin is how far below the rolling baseline a sample must fall to count as silence
	DefaultMargin = 10.0
)

// Detector classifies power samples as voice or silence relative to an
// adaptive baseline: the rolling average of the most recent samples.
type Detector struct {
	window *audio.RollingWindow
	margin float64

	// Statistics
	totalSamples  uint64
	silentSamples uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result is the classification of one power sample
type Result struct {
	Power     float64   `json:"power"`     // Sanitized input power in dBFS
	Baseline  float64   `json:"baseline"`  // Rolling average before this sample
	Threshold float64   `json:"threshold"` // Baseline minus margin
	Silence   bool      `json:"silence"`   // Whether the sample is below threshold
	Warm      bool      `json:"warm"`      // Whether the window was full when classifying
	Timestamp time.Time `json:"timestamp"`
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	WindowSize        int       `json:"window_size"`
	WindowFill        int       `json:"window_fill"`
	Margin            float64   `json:"margin_db"`
	Baseline          float64   `json:"baseline_db"`
	TotalSamples      uint64    `json:"total_samples"`
	SilentSamples     uint64    `json:"silent_samples"`
	SilencePercentage float64   `json:"silence_percentage"`
	LastProcessed     time.Time `json:"last_processed"`
}

// NewDetector creates a detector with the given window size and margin in dB
func NewDetector(windowSize int, margin float64) (*Detector, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if margin < 0 {
		return nil, fmt.Errorf("margin must not be negative, got %f", margin)
	}

	return &Detector{
		window: audio.NewRollingWindow(windowSize),
		margin: margin,
	}, nil
}

// Observe classifies power against the current baseline and then adds it to
// the rolling window. An empty window has no baseline and never reports silence.
func (d *Detector) Observe(power float64) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	power = audio.Sanitize(power)
	baseline := d.window.Average()
	threshold := baseline - d.margin

	result := Result{
		Power:     power,
		Baseline:  baseline,
		Threshold: threshold,
		Silence:   d.window.Len() > 0 && power < threshold,
		Warm:      d.window.Full(),
		Timestamp: time.Now(),
	}

	d.window.Push(power)

	d.totalSamples++
	if result.Silence {
		d.silentSamples++
	}
	d.lastProcessed = result.Timestamp

	return result
}

// IsSilence reports whether power is below the current baseline minus margin
// without updating the window
func (d *Detector) IsSilence(power float64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.window.Len() == 0 {
		return false
	}
	return audio.Sanitize(power) < d.window.Average()-d.margin
}

// Baseline returns the current rolling average in dBFS
func (d *Detector) Baseline() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.window.Average()
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	silencePercentage := float64(0)
	if d.totalSamples > 0 {
		silencePercentage = float64(d.silentSamples) / float64(d.totalSamples) * 100
	}

	return DetectorStats{
		WindowSize:        d.window.Cap(),
		WindowFill:        d.window.Len(),
		Margin:            d.margin,
		Baseline:          d.window.Average(),
		TotalSamples:      d.totalSamples,
		SilentSamples:     d.silentSamples,
		SilencePercentage: silencePercentage,
		LastProcessed:     d.lastProcessed,
	}
}

// Reset clears the baseline and statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.window.Reset()
	d.totalSamples = 0
	d.silentSamples = 0
	d.lastProcessed = time.Time{}
}
