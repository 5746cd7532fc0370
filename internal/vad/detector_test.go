package vad

import (
	"math"
	"testing"
)

func TestNewDetectorValidation(t *testing.T) {
	tests := []struct {
		name       string
		windowSize int
		margin     float64
		expectErr  bool
	}{
		{name: "valid parameters", windowSize: 30, margin: 10},
		{name: "zero margin", windowSize: 30, margin: 0},
		{name: "zero window size", windowSize: 0, margin: 10, expectErr: true},
		{name: "negative margin", windowSize: 30, margin: -1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetector(tt.windowSize, tt.margin)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestEmptyWindowIsNeverSilence(t *testing.T) {
	d, err := NewDetector(30, 10)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	if d.IsSilence(-160) {
		t.Error("Expected no silence without a baseline")
	}

	if result := d.Observe(-160); result.Silence {
		t.Error("Expected first sample to be classified as voice")
	}
}

func TestSilenceRelativeToBaseline(t *testing.T) {
	d, err := NewDetector(30, 10)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	for i := 0; i < 35; i++ {
		if result := d.Observe(-20); result.Silence {
			t.Fatalf("sample %d: steady voice classified as silence", i)
		}
	}

	if math.Abs(d.Baseline()-(-20)) > 1e-9 {
		t.Fatalf("Expected baseline -20, got %f", d.Baseline())
	}

	// 5 dB below baseline is within the margin
	if d.IsSilence(-25) {
		t.Error("Expected -25 dB to be voice against a -20 dB baseline")
	}

	result := d.Observe(-35)
	if !result.Silence {
		t.Errorf("Expected -35 dB to be silence against a -20 dB baseline (threshold %f)", result.Threshold)
	}
	if !result.Warm {
		t.Error("Expected full window")
	}
	if result.Baseline != -20 {
		t.Errorf("Expected pre-sample baseline -20, got %f", result.Baseline)
	}
}

func TestBaselineAdaptsToNoiseFloor(t *testing.T) {
	d, err := NewDetector(30, 10)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	// A noisy room: a static -40 dB threshold would never fire here
	for i := 0; i < 30; i++ {
		d.Observe(-15)
	}
	if !d.IsSilence(-30) {
		t.Error("Expected a dip to -30 dB to be silence in a -15 dB room")
	}

	// A quiet room: -30 dB is now speech
	for i := 0; i < 30; i++ {
		d.Observe(-55)
	}
	if d.IsSilence(-30) {
		t.Error("Expected -30 dB to be voice in a -55 dB room")
	}
}

func TestNegativeInfinityIsClamped(t *testing.T) {
	d, err := NewDetector(3, 10)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	d.Observe(-20)
	result := d.Observe(math.Inf(-1))
	if !result.Silence {
		t.Error("Expected -Inf to be silence")
	}

	if math.IsInf(d.Baseline(), 0) || math.IsNaN(d.Baseline()) {
		t.Fatalf("Baseline must stay finite, got %f", d.Baseline())
	}

	// Evict the clamped reading and make sure the average recovers
	for i := 0; i < 3; i++ {
		d.Observe(-20)
	}
	if math.Abs(d.Baseline()-(-20)) > 1e-9 {
		t.Errorf("Expected baseline -20 after eviction, got %f", d.Baseline())
	}
}

func TestDetectorStatsAndReset(t *testing.T) {
	d, err := NewDetector(30, 10)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	for i := 0; i < 9; i++ {
		d.Observe(-20)
	}
	d.Observe(-50)

	stats := d.GetStats()
	if stats.TotalSamples != 10 {
		t.Errorf("Expected 10 samples, got %d", stats.TotalSamples)
	}
	if stats.SilentSamples != 1 {
		t.Errorf("Expected 1 silent sample, got %d", stats.SilentSamples)
	}
	if math.Abs(stats.SilencePercentage-10) > 1e-9 {
		t.Errorf("Expected 10%% silence, got %f", stats.SilencePercentage)
	}
	if stats.WindowFill != 10 || stats.WindowSize != 30 {
		t.Errorf("Unexpected window fill %d/%d", stats.WindowFill, stats.WindowSize)
	}

	d.Reset()
	stats = d.GetStats()
	if stats.TotalSamples != 0 || stats.WindowFill != 0 || !stats.LastProcessed.IsZero() {
		t.Errorf("Expected cleared stats after reset, got %+v", stats)
	}
}
