package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	// wavHeaderSize is the size of a canonical PCM WAV header
	wavHeaderSize = 44

	// BytesPerSample is the size of one mono PCM-16 sample
	BytesPerSample = 2
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newWAVHeader builds a mono PCM-16 header for dataSize bytes of audio
func newWAVHeader(sampleRate int, dataSize uint32) WAVHeader {
	numChannels := uint16(1)
	bitsPerSample := uint16(16)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV encodes PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	header := newWAVHeader(sampleRate, uint32(len(samples)*BytesPerSample))
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*BytesPerSample))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes WAV format data back to PCM-16 samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	if header.NumChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	numSamples := int(header.Subchunk2Size) / BytesPerSample
	if numSamples <= 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, numSamples)
	if err := binary.Read(bytes.NewReader(data[wavHeaderSize:]), binary.LittleEndian, samples); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, int(header.SampleRate), nil
}

// readWAVHeader parses and sanity-checks the RIFF/WAVE/fmt/data markers
func readWAVHeader(data []byte) (WAVHeader, error) {
	var header WAVHeader
	if len(data) < wavHeaderSize {
		return header, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return header, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return header, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return header, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return header, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return header, nil
}

// WAVInfo describes a WAV payload
type WAVInfo struct {
	SampleRate    uint32        `json:"sample_rate"`
	Channels      uint16        `json:"channels"`
	BitsPerSample uint16        `json:"bits_per_sample"`
	Duration      time.Duration `json:"duration"`
	DataSize      uint32        `json:"data_size_bytes"`
	NumSamples    uint32        `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readWAVHeader(data)
	if err != nil {
		return nil, err
	}

	if header.SampleRate == 0 || header.BitsPerSample == 0 {
		return nil, fmt.Errorf("invalid WAV header: sample rate %d, bits %d", header.SampleRate, header.BitsPerSample)
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      SamplesDuration(int64(numSamples), int(header.SampleRate)),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

// SamplesDuration converts a sample count to wall time at the given rate
func SamplesDuration(samples int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// WAVWriter streams mono PCM-16 audio into a WAV file.
// The header is written with a zero data size and patched on Close.
type WAVWriter struct {
	file       *os.File
	sampleRate int
	dataBytes  int64
	closed     bool
}

// CreateWAV creates path and writes a placeholder header
func CreateWAV(path string, sampleRate int) (*WAVWriter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file %s: %w", path, err)
	}

	if err := binary.Write(file, binary.LittleEndian, newWAVHeader(sampleRate, 0)); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return &WAVWriter{file: file, sampleRate: sampleRate}, nil
}

// Write appends raw little-endian PCM-16 bytes
func (w *WAVWriter) Write(pcm []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed WAV file")
	}
	if len(pcm)%BytesPerSample != 0 {
		return 0, fmt.Errorf("audio data length must be even (got %d bytes)", len(pcm))
	}

	n, err := w.file.Write(pcm)
	w.dataBytes += int64(n)
	return n, err
}

// Samples returns the number of samples written so far
func (w *WAVWriter) Samples() int64 {
	return w.dataBytes / BytesPerSample
}

// Duration returns the audio duration written so far
func (w *WAVWriter) Duration() time.Duration {
	return SamplesDuration(w.Samples(), w.sampleRate)
}

// Path returns the file path being written
func (w *WAVWriter) Path() string {
	return w.file.Name()
}

// Close patches the header sizes and closes the file
func (w *WAVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to rewind WAV file: %w", err)
	}

	header := newWAVHeader(w.sampleRate, uint32(w.dataBytes))
	if err := binary.Write(w.file, binary.LittleEndian, header); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to patch WAV header: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAV file: %w", err)
	}
	return nil
}
