package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinPower is the meter floor in dBFS. Readings at or below it are silence.
	MinPower = -160.0

	// MaxSampleValue is the maximum absolute value for 16-bit signed audio
	MaxSampleValue = 32768.0
)

// LevelData accumulates mono S16LE samples between meter polls
type LevelData struct {
	SumSquares  float64
	SampleCount int
}

// ProcessPCM accumulates little-endian PCM-16 bytes into the level data
func (d *LevelData) ProcessPCM(buf []byte) {
	for i := 0; i+1 < len(buf); i += BytesPerSample {
		sample := float64(int16(binary.LittleEndian.Uint16(buf[i:])))

		d.SumSquares += sample * sample
		d.SampleCount++
	}
}

// AveragePower returns the RMS power in dBFS, floored at MinPower
func (d *LevelData) AveragePower() float64 {
	if d.SampleCount == 0 {
		return MinPower
	}

	rms := math.Sqrt(d.SumSquares / float64(d.SampleCount))
	return ToDecibels(rms / MaxSampleValue)
}

// Reset clears the accumulators for the next measurement period
func (d *LevelData) Reset() {
	d.SumSquares = 0
	d.SampleCount = 0
}

// ToDecibels converts a linear amplitude ratio to dBFS, floored at MinPower
func ToDecibels(ratio float64) float64 {
	if ratio <= 0 {
		return MinPower
	}
	return max(20*math.Log10(ratio), MinPower)
}

// Normalize maps a power reading to [0,1] for level display.
// -Inf and NaN map to 0.
func Normalize(power float64) float64 {
	if math.IsNaN(power) {
		return 0
	}
	normalized := (power - MinPower) / -MinPower
	return math.Min(math.Max(normalized, 0), 1)
}

// Sanitize replaces -Inf, NaN and sub-floor readings with MinPower
func Sanitize(power float64) float64 {
	if math.IsNaN(power) || power < MinPower {
		return MinPower
	}
	return power
}
