package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 12kHz
	sampleRate := 12000
	numSamples := sampleRate / 10
	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		ts := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*440*ts))
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := wavHeaderSize + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	if info.Duration != 100*time.Millisecond {
		t.Errorf("Expected duration 100ms, got %v", info.Duration)
	}
}

func TestDecodeWAV(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500}
	sampleRate := 12000

	wavData, err := EncodeWAV(originalSamples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decodedSamples, decodedSampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedSampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedSampleRate)
	}

	if len(decodedSamples) != len(originalSamples) {
		t.Fatalf("Expected %d samples, got %d", len(originalSamples), len(decodedSamples))
	}

	for i, original := range originalSamples {
		if decodedSamples[i] != original {
			t.Errorf("Sample %d: expected %d, got %d", i, original, decodedSamples[i])
		}
	}
}

func TestEncodeWAVInvalidInput(t *testing.T) {
	if _, err := EncodeWAV([]int16{}, 12000); err == nil {
		t.Error("Expected error for empty samples")
	}

	if _, err := EncodeWAV([]int16{1, 2, 3}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestInvalidWAV(t *testing.T) {
	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))

	stereo, err := EncodeWAV([]int16{1, 2, 3, 4}, 12000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	binary.LittleEndian.PutUint16(stereo[22:], 2)

	tests := []struct {
		name    string
		data    []byte
		infoErr bool
	}{
		{"too short", []byte{1, 2, 3}, true},
		{"missing RIFF header", invalidWAV, true},
		{"stereo", stereo, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := GetWAVInfo(tt.data); (err != nil) != tt.infoErr {
				t.Errorf("GetWAVInfo error = %v, want error %v", err, tt.infoErr)
			}
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected DecodeWAV to reject the data")
			}
		})
	}
}

func TestWAVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.wav")
	sampleRate := 12000

	w, err := CreateWAV(path, sampleRate)
	if err != nil {
		t.Fatalf("CreateWAV failed: %v", err)
	}

	// Two writes of 0.25s each
	chunk := make([]byte, sampleRate/4*BytesPerSample)
	for i := 0; i < len(chunk); i += 2 {
		binary.LittleEndian.PutUint16(chunk[i:], uint16(int16(i%2000-1000)))
	}
	for i := 0; i < 2; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if w.Duration() != 500*time.Millisecond {
		t.Errorf("Expected 500ms written, got %v", w.Duration())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Closing twice is a no-op
	if err := w.Close(); err != nil {
		t.Errorf("Second Close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	info, err := GetWAVInfo(data)
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}

	if info.NumSamples != uint32(sampleRate/2) {
		t.Errorf("Expected %d samples, got %d", sampleRate/2, info.NumSamples)
	}

	if info.Duration != 500*time.Millisecond {
		t.Errorf("Expected duration 500ms, got %v", info.Duration)
	}

	if _, err := w.Write(chunk); err == nil {
		t.Error("Expected error writing to closed file")
	}
}

func TestWAVWriterOddLength(t *testing.T) {
	w, err := CreateWAV(filepath.Join(t.TempDir(), "odd.wav"), 12000)
	if err != nil {
		t.Fatalf("CreateWAV failed: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length PCM")
	}
}
