package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gerkai/soaperNote/internal/audio"
	"github.com/gerkai/soaperNote/internal/capture"
	"github.com/gerkai/soaperNote/internal/vad"
)

// State represents the recorder lifecycle state
type State int

const (
	StateIdle State = iota
	StateRecording
	StateRotating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateRotating:
		return "rotating"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	// ErrAlreadyRecording is returned by Start while a session is live
	ErrAlreadyRecording = errors.New("recorder is already recording")

	// ErrNotRecording is returned by Stop when there is nothing to stop
	ErrNotRecording = errors.New("recorder is not recording")
)

// Config contains segmentation configuration
type Config struct {
	SampleInterval     time.Duration // Meter polling period
	WindowSize         int           // Rolling baseline size in samples
	SilenceMargin      float64       // dB below baseline that counts as silence
	MinVoicedDuration  time.Duration // Voiced time required before silence rotates
	MinSegmentDuration time.Duration // Segments not longer than this are not transcribed
	StartIndex         int           // Sequence index of the first segment
}

// DefaultConfig returns the stock segmentation parameters
func DefaultConfig() Config {
	return Config{
		SampleInterval:     100 * time.Millisecond,
		WindowSize:         audio.DefaultWindowSize,
		SilenceMargin:      vad.DefaultMargin,
		MinVoicedDuration:  800 * time.Millisecond,
		MinSegmentDuration: 500 * time.Millisecond,
		StartIndex:         0,
	}
}

// Submitter accepts finalized segments for transcription. Submit must not block.
type Submitter interface {
	Submit(segment capture.Segment)
}

// Level is one meter reading as classified by the silence detector
type Level struct {
	Power      float64 // dBFS
	Normalized float64 // [0,1] for level display
	Baseline   float64 // Rolling average before this reading
	Silence    bool
}

// Observer receives recorder events. Callbacks run on the recorder's
// goroutine while it holds its lock and must not call back into the recorder.
type Observer interface {
	LevelChanged(level Level)
	StateChanged(state State, index int)
	SegmentFinalized(segment capture.Segment, submitted bool)
	CaptureFailed(err error)
}

// Recorder owns the record/rotate/stop lifecycle of capture sessions.
// A single polling loop samples the meter, feeds the silence detector and
// rotates the capture file when silence follows enough voice.
type Recorder struct {
	config    Config
	logger    *slog.Logger
	detector  *vad.Detector
	submitter Submitter
	observer  Observer

	state     State
	device    capture.Device
	session   capture.Session
	nextIndex int
	voiced    time.Duration
	stopping  bool

	// Loop control
	cancel   context.CancelFunc
	loopDone chan struct{}
	tickerFn func(time.Duration) (<-chan time.Time, func())

	// Statistics
	rotations         uint64
	segmentsFinalized uint64
	segmentsSubmitted uint64
	segmentsDiscarded uint64
	captureErrors     uint64

	mu sync.Mutex
}

// Stats represents recorder statistics
type Stats struct {
	State             string `json:"state"`
	CurrentIndex      int    `json:"current_index"`
	NextIndex         int    `json:"next_index"`
	Rotations         uint64 `json:"rotations"`
	SegmentsFinalized uint64 `json:"segments_finalized"`
	SegmentsSubmitted uint64 `json:"segments_submitted"`
	SegmentsDiscarded uint64 `json:"segments_discarded"`
	CaptureErrors     uint64 `json:"capture_errors"`

	Detector vad.DetectorStats `json:"detector"`
}

// New creates a recorder in the Idle state
func New(config Config, submitter Submitter, observer Observer, logger *slog.Logger) (*Recorder, error) {
	if config.SampleInterval <= 0 {
		return nil, fmt.Errorf("sample interval must be positive, got %v", config.SampleInterval)
	}

	if config.StartIndex < 0 {
		return nil, fmt.Errorf("start index must not be negative, got %d", config.StartIndex)
	}

	if submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}

	detector, err := vad.NewDetector(config.WindowSize, config.SilenceMargin)
	if err != nil {
		return nil, fmt.Errorf("failed to create silence detector: %w", err)
	}

	if observer == nil {
		observer = nopObserver{}
	}

	return &Recorder{
		config:    config,
		logger:    logger,
		detector:  detector,
		submitter: submitter,
		observer:  observer,
		state:     StateIdle,
		nextIndex: config.StartIndex,
		tickerFn: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}, nil
}

// Start opens a capture session at the next sequence index and starts the
// polling loop. The loop lives until Stop, a fatal capture error, or ctx is done.
// If the session cannot be opened, a *capture.InitError is returned and the
// recorder stays Idle.
func (r *Recorder) Start(ctx context.Context, device capture.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle || r.stopping {
		return ErrAlreadyRecording
	}

	session, err := r.openSession(device, r.nextIndex)
	if err != nil {
		r.captureErrors++
		return err
	}

	r.device = device
	r.session = session
	r.nextIndex = session.Index() + 1
	r.voiced = 0
	r.detector.Reset()
	r.state = StateRecording

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.loopDone = make(chan struct{})
	stream, _ := device.(capture.Stream)
	go r.run(loopCtx, r.loopDone, stream)

	r.logger.Info("Recording started",
		slog.Int("index", session.Index()),
		slog.Duration("sample_interval", r.config.SampleInterval),
	)
	r.observer.StateChanged(StateRecording, session.Index())

	return nil
}

// Stop cancels the polling loop and finalizes the live session at its
// current index. The segment is submitted only when transcribe is true and it
// is long enough. In-flight transcriptions are not affected.
func (r *Recorder) Stop(transcribe bool) (capture.Segment, error) {
	r.mu.Lock()
	if r.state == StateIdle || r.stopping {
		r.mu.Unlock()
		return capture.Segment{}, ErrNotRecording
	}
	r.stopping = true
	cancel, done := r.cancel, r.loopDone
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopping = false

	// A fatal rotation error may have stopped the recorder meanwhile
	if r.state == StateIdle || r.session == nil {
		return capture.Segment{}, ErrNotRecording
	}

	session := r.session
	r.session = nil
	r.device = nil
	r.state = StateIdle

	segment, err := r.finalize(session, transcribe)

	r.logger.Info("Recording stopped",
		slog.Int("index", session.Index()),
		slog.Bool("transcribe", transcribe),
	)
	r.observer.StateChanged(StateIdle, session.Index())

	return segment, err
}

// run is the single polling loop for sampling, detection and rotation. It
// also ends capture when the input stream stops on its own.
func (r *Recorder) run(ctx context.Context, done chan struct{}, stream capture.Stream) {
	defer close(done)

	ticks, stop := r.tickerFn(r.config.SampleInterval)
	defer stop()

	var ended <-chan struct{}
	if stream != nil {
		ended = stream.Done()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			r.tick()
		case <-ended:
			r.inputEnded(stream.Err())
			return
		}
	}
}

// inputEnded finalizes the live session after the audio input stopped and
// reports the input loss as a fatal capture error.
func (r *Recorder) inputEnded(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Stop owns the session once it has begun
	if r.state == StateIdle || r.session == nil || r.stopping {
		return
	}

	session := r.session
	r.session = nil
	r.device = nil
	r.state = StateIdle
	r.captureErrors++
	r.cancel()

	// The audio captured so far is still a valid segment
	_, _ = r.finalize(session, true)

	if cause == nil {
		cause = errors.New("end of stream")
	}
	err := &capture.InitError{Index: r.nextIndex, Err: fmt.Errorf("audio input ended: %w", cause)}

	r.logger.Error("Capture stopped: audio input ended",
		slog.Int("finalized_index", session.Index()),
		slog.String("error", err.Error()),
	)
	r.observer.CaptureFailed(err)
	r.observer.StateChanged(StateIdle, session.Index())
}

// tick samples the meter once and rotates on silence after enough voice
func (r *Recorder) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording || r.session == nil {
		return
	}

	power := r.device.Power()
	result := r.detector.Observe(power)

	r.observer.LevelChanged(Level{
		Power:      result.Power,
		Normalized: audio.Normalize(result.Power),
		Baseline:   result.Baseline,
		Silence:    result.Silence,
	})

	if !result.Silence {
		r.voiced += r.config.SampleInterval
		return
	}

	if r.voiced <= r.config.MinVoicedDuration {
		return
	}

	r.logger.Debug("Silence after voice detected",
		slog.Int("index", r.session.Index()),
		slog.Float64("power", result.Power),
		slog.Float64("baseline", result.Baseline),
		slog.Duration("voiced", r.voiced),
	)

	r.rotate()
}

// rotate opens the next session and then finalizes the live one, so audio
// arriving during the file close lands in the new segment. The finalized
// index is consumed whether or not its segment is submitted.
func (r *Recorder) rotate() {
	current := r.session
	r.state = StateRotating
	r.observer.StateChanged(StateRotating, current.Index())

	r.voiced = 0
	r.rotations++

	next, openErr := r.openSession(r.device, r.nextIndex)

	// Finalize failures drop the segment but capture continues
	r.session = nil
	_, _ = r.finalize(current, true)

	if openErr != nil {
		r.captureErrors++
		r.state = StateIdle
		r.device = nil
		r.cancel()

		r.logger.Error("Capture stopped: cannot open next session",
			slog.Int("index", r.nextIndex),
			slog.String("error", openErr.Error()),
		)
		r.observer.CaptureFailed(openErr)
		r.observer.StateChanged(StateIdle, current.Index())
		return
	}

	r.session = next
	r.nextIndex = next.Index() + 1
	r.state = StateRecording

	r.logger.Info("Capture rotated",
		slog.Int("finalized_index", current.Index()),
		slog.Int("index", next.Index()),
	)
	r.observer.StateChanged(StateRecording, next.Index())
}

// finalize closes a session and submits its segment if requested and long enough
func (r *Recorder) finalize(session capture.Session, submit bool) (capture.Segment, error) {
	segment, err := session.Finalize()
	if err != nil {
		var finalizeErr *capture.FinalizeError
		if !errors.As(err, &finalizeErr) {
			err = &capture.FinalizeError{Index: session.Index(), Err: err}
		}
		r.captureErrors++

		r.logger.Error("Segment lost: finalize failed",
			slog.Int("index", session.Index()),
			slog.String("error", err.Error()),
		)
		r.observer.CaptureFailed(err)
		return capture.Segment{}, err
	}

	r.segmentsFinalized++

	submitted := false
	if submit && segment.Duration > r.config.MinSegmentDuration {
		r.submitter.Submit(segment)
		r.segmentsSubmitted++
		submitted = true
	} else {
		r.segmentsDiscarded++
	}

	r.logger.Info("Segment finalized",
		slog.Int("index", segment.Index),
		slog.String("path", segment.Path),
		slog.Duration("duration", segment.Duration),
		slog.Bool("submitted", submitted),
	)
	r.observer.SegmentFinalized(segment, submitted)

	return segment, nil
}

// openSession opens a session and normalizes failures to *capture.InitError
func (r *Recorder) openSession(device capture.Device, index int) (capture.Session, error) {
	if device == nil {
		return nil, &capture.InitError{Index: index, Err: errors.New("no audio device")}
	}

	session, err := device.Open(index)
	if err != nil {
		var initErr *capture.InitError
		if !errors.As(err, &initErr) {
			err = &capture.InitError{Index: index, Err: err}
		}
		return nil, err
	}
	return session, nil
}

// State returns the current lifecycle state
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRecording reports whether a capture session is live
func (r *Recorder) IsRecording() bool {
	return r.State() != StateIdle
}

// NextIndex returns the sequence index the next session will use
func (r *Recorder) NextIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIndex
}

// GetStats returns current recorder statistics
func (r *Recorder) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := -1
	if r.session != nil {
		current = r.session.Index()
	}

	return Stats{
		State:             r.state.String(),
		CurrentIndex:      current,
		NextIndex:         r.nextIndex,
		Rotations:         r.rotations,
		SegmentsFinalized: r.segmentsFinalized,
		SegmentsSubmitted: r.segmentsSubmitted,
		SegmentsDiscarded: r.segmentsDiscarded,
		CaptureErrors:     r.captureErrors,
		Detector:          r.detector.GetStats(),
	}
}

type nopObserver struct{}

func (nopObserver) LevelChanged(Level)                     {}
func (nopObserver) StateChanged(State, int)                {}
func (nopObserver) SegmentFinalized(capture.Segment, bool) {}
func (nopObserver) CaptureFailed(error)                    {}
