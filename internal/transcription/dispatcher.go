package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gerkai/soaperNote/internal/capture"
	"github.com/gerkai/soaperNote/internal/metrics"
	"github.com/gerkai/soaperNote/internal/transcript"
)

// Sink receives successful transcriptions
type Sink interface {
	Receive(entry transcript.Entry) (bool, error)
}

// FailureFunc is called once for every segment that could not be transcribed
type FailureFunc func(segment capture.Segment, err error)

// DispatcherConfig contains dispatcher configuration
type DispatcherConfig struct {
	MaxConcurrent int           // 0 means unbounded
	Timeout       time.Duration // Per upload; 0 means the transcriber's own timeout
}

// Dispatcher uploads finalized segments in the background. Submit never
// blocks the caller; every upload runs on its own goroutine and may finish
// in any order. Failed uploads are reported and never retried.
type Dispatcher struct {
	transcriber Transcriber
	sink        Sink
	config      DispatcherConfig
	logger      *slog.Logger
	metrics     *metrics.Metrics
	onFailure   FailureFunc

	semaphore chan struct{} // nil when unbounded
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Statistics
	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64
}

// DispatcherStats represents dispatcher statistics
type DispatcherStats struct {
	Submitted uint64      `json:"submitted"`
	Succeeded uint64      `json:"succeeded"`
	Failed    uint64      `json:"failed"`
	InFlight  int64       `json:"in_flight"`
	Client    ClientStats `json:"client"`
}

// NewDispatcher creates a dispatcher delivering results to sink
func NewDispatcher(transcriber Transcriber, sink Sink, config DispatcherConfig, m *metrics.Metrics, logger *slog.Logger) (*Dispatcher, error) {
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}

	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	if config.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max concurrent must not be negative, got %d", config.MaxConcurrent)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		transcriber: transcriber,
		sink:        sink,
		config:      config,
		logger:      logger,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
	}

	if config.MaxConcurrent > 0 {
		d.semaphore = make(chan struct{}, config.MaxConcurrent)
	}

	return d, nil
}

// SetFailureHandler installs a failure callback. Call it before the first Submit.
func (d *Dispatcher) SetFailureHandler(fn FailureFunc) {
	d.onFailure = fn
}

// Submit starts transcribing a segment and returns immediately
func (d *Dispatcher) Submit(segment capture.Segment) {
	d.submitted.Add(1)
	d.wg.Add(1)

	go d.transcribe(segment)
}

// transcribe uploads one segment and delivers its result
func (d *Dispatcher) transcribe(segment capture.Segment) {
	defer d.wg.Done()

	if d.semaphore != nil {
		select {
		case d.semaphore <- struct{}{}:
			defer func() { <-d.semaphore }()
		case <-d.ctx.Done():
			d.metrics.RecordTranscriptionRequest()
			d.fail(segment, &RequestError{Index: segment.Index, Err: d.ctx.Err()}, 0)
			return
		}
	}

	ctx := d.ctx
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	d.metrics.RecordTranscriptionRequest()

	startTime := time.Now()
	result, err := d.transcriber.Transcribe(ctx, segment)
	elapsed := time.Since(startTime)

	if err != nil {
		d.fail(segment, err, elapsed)
		return
	}

	d.succeeded.Add(1)
	d.metrics.RecordTranscriptionSuccess(elapsed.Seconds())

	d.logger.Info("Segment transcribed",
		slog.Int("index", segment.Index),
		slog.Int("text_length", len(result.Text)),
		slog.Duration("elapsed", elapsed),
	)

	if _, err := d.sink.Receive(transcript.Entry{Index: segment.Index, Text: result.Text}); err != nil {
		d.logger.Warn("Transcription result dropped",
			slog.Int("index", segment.Index),
			slog.String("error", err.Error()),
		)
	}
}

// fail reports a failed segment; its index stays absent from the transcript
func (d *Dispatcher) fail(segment capture.Segment, err error, elapsed time.Duration) {
	d.failed.Add(1)

	reason := "request"
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		reason = "response"
	}

	d.metrics.RecordTranscriptionFailure(reason, elapsed.Seconds())

	d.logger.Error("Segment transcription failed",
		slog.Int("index", segment.Index),
		slog.String("path", segment.Path),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)

	if d.onFailure != nil {
		d.onFailure(segment, err)
	}
}

// Wait blocks until all submitted uploads have finished or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts uploads still in flight. Use Wait first to let them finish.
func (d *Dispatcher) Close() {
	d.cancel()
}

// GetStats returns current dispatcher statistics
func (d *Dispatcher) GetStats() DispatcherStats {
	return DispatcherStats{
		Submitted: d.submitted.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		InFlight:  d.inFlight.Load(),
		Client:    d.transcriber.GetStats(),
	}
}
