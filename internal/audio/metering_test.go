package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		power float64
		want  float64
	}{
		{"full scale", 0, 1},
		{"above full scale", 12, 1},
		{"floor", -160, 0},
		{"below floor", -200, 0},
		{"midpoint", -80, 0.5},
		{"negative infinity", math.Inf(-1), 0},
		{"nan", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.power); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Normalize(%f) = %f, want %f", tt.power, got, tt.want)
			}
		})
	}
}

func TestLevelDataAveragePower(t *testing.T) {
	var d LevelData

	if d.AveragePower() != MinPower {
		t.Errorf("expected MinPower with no samples, got %f", d.AveragePower())
	}

	// Constant half-scale signal is -6.02 dBFS
	buf := make([]byte, 200)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(int16(16384)))
	}
	d.ProcessPCM(buf)

	if d.SampleCount != 100 {
		t.Fatalf("expected 100 samples, got %d", d.SampleCount)
	}

	if got := d.AveragePower(); math.Abs(got-(-6.0206)) > 0.01 {
		t.Errorf("expected about -6.02 dB, got %f", got)
	}

	d.Reset()
	if d.SampleCount != 0 || d.AveragePower() != MinPower {
		t.Error("expected reset accumulators")
	}
}

func TestLevelDataDigitalSilence(t *testing.T) {
	var d LevelData
	d.ProcessPCM(make([]byte, 64))

	if got := d.AveragePower(); got != MinPower {
		t.Errorf("expected MinPower for zero samples, got %f", got)
	}
}

func TestSanitize(t *testing.T) {
	if Sanitize(math.Inf(-1)) != MinPower {
		t.Error("expected -Inf to be clamped")
	}
	if Sanitize(math.NaN()) != MinPower {
		t.Error("expected NaN to be clamped")
	}
	if Sanitize(-20) != -20 {
		t.Error("expected in-range value to pass through")
	}
}
