package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gerkai/soaperNote/internal/capture"
	"github.com/gerkai/soaperNote/internal/metrics"
	"github.com/gerkai/soaperNote/internal/recorder"
	"github.com/gerkai/soaperNote/internal/transcript"
	"github.com/gerkai/soaperNote/internal/transcription"
)

// ErrClosed is returned when the manager has been closed
var ErrClosed = errors.New("pipeline closed")

// Device is an acquired audio input that is released when recording stops
type Device interface {
	capture.Device
	Release() error
}

// Source acquires the audio input for one recording
type Source interface {
	Acquire(ctx context.Context) (Device, error)
}

// HandleSource acquires a capture.Handle over the configured input
type HandleSource struct {
	Input  capture.Input
	Config capture.Config
	Logger *slog.Logger
}

// Acquire starts the audio input
func (s HandleSource) Acquire(ctx context.Context) (Device, error) {
	h, err := capture.Acquire(ctx, s.Input, s.Config, s.Logger)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Config contains pipeline configuration
type Config struct {
	Recorder   recorder.Config
	Dispatcher transcription.DispatcherConfig
}

// Snapshot is the read model consumed by displays and the note generator.
// TranscriptVersion grows with every transcript change.
type Snapshot struct {
	IsRecording       bool      `json:"is_recording"`
	State             string    `json:"state"`
	Power             float64   `json:"power"`
	NormalizedPower   float64   `json:"normalized_power"`
	Transcript        string    `json:"transcript"`
	TranscriptVersion uint64    `json:"transcript_version"`
	NextIndex         int       `json:"next_index"`
	LastError         string    `json:"last_error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Stats represents pipeline statistics
type Stats struct {
	Uptime      string                        `json:"uptime"`
	Recordings  uint64                        `json:"recordings"`
	Subscribers int                           `json:"subscribers"`
	Recorder    recorder.Stats                `json:"recorder"`
	Dispatcher  transcription.DispatcherStats `json:"dispatcher"`
	Transcript  transcript.Stats              `json:"transcript"`
	Capture     *capture.HandleStats          `json:"capture,omitempty"`
}

// Manager wires the recorder, dispatcher and assembler together and
// maintains the read model pushed to subscribers.
type Manager struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	source  Source

	recorder   *recorder.Recorder
	dispatcher *transcription.Dispatcher
	assembler  *transcript.Assembler

	// Lifecycle, guarded by mu
	device     Device
	recordings uint64
	closed     bool
	mu         sync.Mutex

	// Read model, guarded by stateMu. Updates are published while it is
	// held so subscribers see them in the order they were applied.
	view    Snapshot
	stateMu sync.Mutex

	subscribers map[int]chan Snapshot
	nextSubID   int
	subMu       sync.Mutex

	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a pipeline manager
func NewManager(config Config, source Source, transcriber transcription.Transcriber, m *metrics.Metrics, logger *slog.Logger) (*Manager, error) {
	if source == nil {
		return nil, fmt.Errorf("audio source is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		config:      config,
		logger:      logger,
		metrics:     m,
		source:      source,
		subscribers: make(map[int]chan Snapshot),
		startTime:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	mgr.view = Snapshot{
		State:     recorder.StateIdle.String(),
		Power:     -160,
		NextIndex: config.Recorder.StartIndex,
		UpdatedAt: time.Now(),
	}

	mgr.assembler = transcript.NewAssembler(logger, mgr.transcriptChanged)

	dispatcher, err := transcription.NewDispatcher(transcriber, mgr.assembler, config.Dispatcher, m, logger)
	if err != nil {
		mgr.assembler.Close()
		cancel()
		return nil, fmt.Errorf("failed to create transcription dispatcher: %w", err)
	}
	mgr.dispatcher = dispatcher

	// The failed index stays a gap in the transcript
	dispatcher.SetFailureHandler(func(segment capture.Segment, err error) {
		mgr.setLastError(err)
	})

	rec, err := recorder.New(config.Recorder, dispatcher, observer{mgr}, logger)
	if err != nil {
		mgr.assembler.Close()
		cancel()
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}
	mgr.recorder = rec

	return mgr, nil
}

// Start acquires the audio input and starts recording at the next index.
// The input outlives ctx; it is released by Stop or Close.
func (m *Manager) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if m.recorder.IsRecording() {
		return recorder.ErrAlreadyRecording
	}

	m.releaseDevice()

	device, err := m.source.Acquire(m.ctx)
	if err != nil {
		initErr := &capture.InitError{Index: m.recorder.NextIndex(), Err: err}
		m.metrics.RecordCaptureError("init")
		m.setLastError(initErr)
		return initErr
	}

	if err := m.recorder.Start(m.ctx, device); err != nil {
		var initErr *capture.InitError
		if errors.As(err, &initErr) {
			m.metrics.RecordCaptureError("init")
			m.setLastError(err)
		}
		if releaseErr := device.Release(); releaseErr != nil {
			m.logger.Warn("Failed to release audio input", slog.String("error", releaseErr.Error()))
		}
		return err
	}

	m.device = device
	m.recordings++

	return nil
}

// Stop ends the recording. When transcribe is true the final segment is
// submitted; uploads already in flight always complete.
func (m *Manager) Stop(transcribe bool) (capture.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	segment, err := m.recorder.Stop(transcribe)
	m.releaseDevice()

	return segment, err
}

// releaseDevice releases the held audio input; m.mu must be held
func (m *Manager) releaseDevice() {
	if m.device == nil {
		return
	}

	if err := m.device.Release(); err != nil {
		m.logger.Warn("Failed to release audio input", slog.String("error", err.Error()))
	}
	m.device = nil
}

// releaseAfterFailure drops the audio input after capture stopped on its own
func (m *Manager) releaseAfterFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.recorder.IsRecording() {
		m.releaseDevice()
	}
}

// Snapshot returns the current read model
func (m *Manager) Snapshot() Snapshot {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.view
}

// Transcript returns the current rendered transcript
func (m *Manager) Transcript() string {
	return m.assembler.Render()
}

// Entries returns the transcript entries in index order
func (m *Manager) Entries() []transcript.Entry {
	return m.assembler.Entries()
}

// Subscribe returns a channel of read model updates and a cancel function.
// Updates are dropped for subscribers that fall behind.
func (m *Manager) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}

	ch := make(chan Snapshot, buffer)

	// Registering under stateMu means no update falls between the current
	// state and the feed
	m.stateMu.Lock()
	m.subMu.Lock()
	ch <- m.view
	if m.subscribers == nil {
		m.subMu.Unlock()
		m.stateMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch
	m.subMu.Unlock()
	m.stateMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			if _, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(ch)
			}
		})
	}
}

// publish pushes a snapshot to every subscriber without blocking
func (m *Manager) publish(view Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- view:
		default:
		}
	}
}

// updateView applies fn to the read model and publishes the result
func (m *Manager) updateView(fn func(v *Snapshot)) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	fn(&m.view)
	m.view.UpdatedAt = time.Now()
	m.publish(m.view)
}

func (m *Manager) setLastError(err error) {
	m.updateView(func(v *Snapshot) { v.LastError = err.Error() })
}

// transcriptChanged runs on the assembler goroutine
func (m *Manager) transcriptChanged(entry transcript.Entry, rendering transcript.Rendering) {
	m.metrics.SetTranscriptEntries(m.assembler.Len())
	m.updateView(func(v *Snapshot) {
		if rendering.Version < v.TranscriptVersion {
			return
		}
		v.Transcript = rendering.Text
		v.TranscriptVersion = rendering.Version
	})
}

// GetStats returns current pipeline statistics
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	recordings := m.recordings
	var handleStats *capture.HandleStats
	if h, ok := m.device.(*capture.Handle); ok {
		s := h.GetStats()
		handleStats = &s
	}
	m.mu.Unlock()

	m.subMu.Lock()
	subscribers := len(m.subscribers)
	m.subMu.Unlock()

	return Stats{
		Uptime:      time.Since(m.startTime).Truncate(time.Second).String(),
		Recordings:  recordings,
		Subscribers: subscribers,
		Recorder:    m.recorder.GetStats(),
		Dispatcher:  m.dispatcher.GetStats(),
		Transcript:  m.assembler.GetStats(),
		Capture:     handleStats,
	}
}

// Close stops recording without submitting the final segment, waits for
// in-flight transcriptions until ctx is done, and releases all resources.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	if m.recorder.IsRecording() {
		if _, err := m.recorder.Stop(false); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
			m.logger.Warn("Failed to stop recording", slog.String("error", err.Error()))
		}
	}
	m.releaseDevice()
	m.mu.Unlock()

	waitErr := m.dispatcher.Wait(ctx)
	if waitErr != nil {
		m.logger.Warn("Abandoning in-flight transcriptions", slog.String("error", waitErr.Error()))
	}
	m.dispatcher.Close()
	m.assembler.Close()
	m.cancel()

	m.subMu.Lock()
	for id, ch := range m.subscribers {
		delete(m.subscribers, id)
		close(ch)
	}
	m.subscribers = nil
	m.subMu.Unlock()

	m.logger.Info("Pipeline closed", slog.Int("transcript_entries", m.assembler.Len()))

	return waitErr
}

// observer adapts recorder events to metrics and the read model. It runs on
// the recorder goroutine and must not call back into the recorder.
type observer struct {
	m *Manager
}

func (o observer) LevelChanged(level recorder.Level) {
	o.m.metrics.RecordSample(level.Power)
	if level.Silence {
		o.m.metrics.RecordSilence()
	}

	o.m.updateView(func(v *Snapshot) {
		v.Power = level.Power
		v.NormalizedPower = level.Normalized
	})
}

func (o observer) StateChanged(state recorder.State, index int) {
	switch state {
	case recorder.StateRotating:
		o.m.metrics.RecordRotation()
	case recorder.StateIdle:
		o.m.metrics.SetRecording(false)
	case recorder.StateRecording:
		o.m.metrics.SetRecording(true)
	}

	o.m.updateView(func(v *Snapshot) {
		v.State = state.String()
		v.IsRecording = state != recorder.StateIdle
		v.NextIndex = index + 1
		if state == recorder.StateIdle {
			v.Power = -160
			v.NormalizedPower = 0
		}
	})
}

func (o observer) SegmentFinalized(segment capture.Segment, submitted bool) {
	o.m.metrics.RecordSegmentFinalized(segment.Duration.Seconds(), submitted)
}

func (o observer) CaptureFailed(err error) {
	var initErr *capture.InitError
	if errors.As(err, &initErr) {
		o.m.metrics.RecordCaptureError("init")

		// Capture stopped itself; give the input back once the recorder unlocks
		go o.m.releaseAfterFailure()
	} else {
		o.m.metrics.RecordCaptureError("finalize")
	}

	o.m.setLastError(err)
}
