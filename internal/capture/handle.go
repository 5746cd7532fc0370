package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gerkai/soaperNote/internal/audio"
)

// ErrReleased is returned when a released handle is used
var ErrReleased = errors.New("audio session handle released")

// releaseTimeout bounds how long Release waits for the input reader to return
const releaseTimeout = 2 * time.Second

// Config contains capture file configuration
type Config struct {
	Dir        string // Directory for segment files
	SampleRate int    // PCM sample rate in Hz
	FilePrefix string // Segment file name prefix
}

// Handle is an acquired audio input: the scoped replacement for global audio
// session state. It is configured on Acquire and torn down on Release.
// The PCM stream is metered continuously and written into the open session.
type Handle struct {
	id     string
	config Config
	logger *slog.Logger
	src    io.ReadCloser

	level     audio.LevelData
	lastPower float64
	current   *fileSession
	carry     []byte
	readErr   error

	// Statistics
	bytesRead    uint64
	sessionsOpen uint64

	done     chan struct{}
	released bool
	mu       sync.Mutex
}

// HandleStats represents capture handle statistics
type HandleStats struct {
	HandleID       string `json:"handle_id"`
	BytesRead      uint64 `json:"bytes_read"`
	SessionsOpened uint64 `json:"sessions_opened"`
	Recording      bool   `json:"recording"`
	Released       bool   `json:"released"`
}

// Acquire configures the audio input and starts pumping PCM from it
func Acquire(ctx context.Context, input Input, config Config, logger *slog.Logger) (*Handle, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.FilePrefix == "" {
		config.FilePrefix = "segment"
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment directory %s: %w", config.Dir, err)
	}

	src, err := input.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire audio input: %w", err)
	}

	h := &Handle{
		id:        uuid.NewString(),
		config:    config,
		logger:    logger,
		src:       src,
		lastPower: audio.MinPower,
		done:      make(chan struct{}),
	}

	go h.pump()

	logger.Info("Audio session acquired",
		slog.String("handle_id", h.id),
		slog.String("dir", config.Dir),
		slog.Int("sample_rate", config.SampleRate),
	)

	return h, nil
}

// pump reads PCM until the input ends or the handle is released
func (h *Handle) pump() {
	defer close(h.done)

	buf := make([]byte, 4096)
	for {
		n, err := h.src.Read(buf)
		if n > 0 {
			h.consume(buf[:n])
		}
		if err != nil {
			h.mu.Lock()
			if !errors.Is(err, io.EOF) && !h.released {
				h.readErr = err
				h.logger.Error("Audio input read failed",
					slog.String("handle_id", h.id),
					slog.String("error", err.Error()),
				)
			}
			h.mu.Unlock()
			return
		}
	}
}

// consume meters a chunk of PCM and appends it to the open session
func (h *Handle) consume(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.bytesRead += uint64(len(chunk))

	// Reads may split a sample; keep the odd byte for the next chunk
	data := chunk
	if len(h.carry) > 0 {
		data = append(h.carry, chunk...)
		h.carry = nil
	}
	even := len(data) &^ 1
	if even < len(data) {
		h.carry = []byte{data[even]}
	}
	data = data[:even]

	h.level.ProcessPCM(data)

	if s := h.current; s != nil && s.writeErr == nil {
		if _, err := s.writer.Write(data); err != nil {
			s.writeErr = err
		}
	}
}

// Power returns the average power since the previous call and restarts
// metering. Inputs deliver audio in periods that need not line up with the
// polling interval, so a poll that saw no samples holds the last reading.
func (h *Handle) Power() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.level.SampleCount == 0 {
		return h.lastPower
	}

	h.lastPower = h.level.AveragePower()
	h.level.Reset()
	return h.lastPower
}

// Open starts a new capture session at index. Audio received from now on is
// written into it until it is finalized or another session is opened.
func (h *Handle) Open(index int) (Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil, &InitError{Index: index, Err: ErrReleased}
	}
	if h.readErr != nil {
		return nil, &InitError{Index: index, Err: fmt.Errorf("audio input failed: %w", h.readErr)}
	}

	name := fmt.Sprintf("%s-%s-%05d.wav", h.config.FilePrefix, h.id[:8], index)
	writer, err := audio.CreateWAV(filepath.Join(h.config.Dir, name), h.config.SampleRate)
	if err != nil {
		return nil, &InitError{Index: index, Err: err}
	}

	s := &fileSession{
		handle:    h,
		index:     index,
		id:        uuid.NewString(),
		writer:    writer,
		startedAt: time.Now(),
	}
	h.current = s
	h.sessionsOpen++

	return s, nil
}

// Done is closed when the input stream ends or the handle is released
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the input read error, if any
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readErr
}

// Release stops the audio input. Open sessions stop receiving audio but must
// still be finalized by their owner.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.current = nil
	h.mu.Unlock()

	err := h.src.Close()
	select {
	case <-h.done:
	case <-time.After(releaseTimeout):
		h.logger.Warn("Audio input did not stop after close", slog.String("handle_id", h.id))
	}

	h.logger.Info("Audio session released", slog.String("handle_id", h.id))

	if err != nil {
		return fmt.Errorf("close audio input: %w", err)
	}
	return nil
}

// GetStats returns current handle statistics
func (h *Handle) GetStats() HandleStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return HandleStats{
		HandleID:       h.id,
		BytesRead:      h.bytesRead,
		SessionsOpened: h.sessionsOpen,
		Recording:      h.current != nil,
		Released:       h.released,
	}
}

// fileSession is a capture session backed by a WAV file
type fileSession struct {
	handle    *Handle
	index     int
	id        string
	writer    *audio.WAVWriter
	startedAt time.Time
	writeErr  error
	finalized bool
}

func (s *fileSession) Index() int           { return s.index }
func (s *fileSession) ID() string           { return s.id }
func (s *fileSession) StartedAt() time.Time { return s.startedAt }

func (s *fileSession) Duration() time.Duration {
	s.handle.mu.Lock()
	defer s.handle.mu.Unlock()
	return s.writer.Duration()
}

// Finalize detaches the session from the input and closes its file
func (s *fileSession) Finalize() (Segment, error) {
	h := s.handle

	h.mu.Lock()
	if s.finalized {
		h.mu.Unlock()
		return Segment{}, &FinalizeError{Index: s.index, Path: s.writer.Path(), Err: errors.New("already finalized")}
	}
	s.finalized = true
	if h.current == s {
		h.current = nil
	}
	writeErr := s.writeErr
	duration := s.writer.Duration()
	h.mu.Unlock()

	path := s.writer.Path()
	closeErr := s.writer.Close()

	if err := errors.Join(writeErr, closeErr); err != nil {
		return Segment{}, &FinalizeError{Index: s.index, Path: path, Err: err}
	}

	return Segment{
		Index:      s.index,
		SessionID:  s.id,
		Path:       path,
		SampleRate: h.config.SampleRate,
		Duration:   duration,
		StartedAt:  s.startedAt,
		EndedAt:    time.Now(),
	}, nil
}
