package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gerkai/soaperNote/internal/capture"
	"github.com/gerkai/soaperNote/internal/metrics"
	"github.com/gerkai/soaperNote/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTranscriber answers per index, optionally blocking until released
type fakeTranscriber struct {
	delays  map[int]time.Duration
	errs    map[int]error
	release chan struct{}

	active    atomic.Int64
	maxActive atomic.Int64
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, segment capture.Segment) (*Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.maxActive.Load()
		if n <= peak || f.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, &RequestError{Index: segment.Index, Err: ctx.Err()}
		}
	}

	if d := f.delays[segment.Index]; d > 0 {
		time.Sleep(d)
	}

	if err := f.errs[segment.Index]; err != nil {
		return nil, err
	}
	return &Result{Text: fmt.Sprintf("text %d", segment.Index)}, nil
}

func (f *fakeTranscriber) GetStats() ClientStats {
	return ClientStats{Backend: "fake"}
}

func newTestDispatcher(t *testing.T, tr Transcriber, config DispatcherConfig) (*Dispatcher, *transcript.Assembler, *metrics.Metrics) {
	t.Helper()
	assembler := transcript.NewAssembler(testLogger(), nil)
	t.Cleanup(assembler.Close)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	d, err := NewDispatcher(tr, assembler, config, m, testLogger())
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	t.Cleanup(d.Close)
	return d, assembler, m
}

func waitAll(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
}

func TestDispatcherOutOfOrderCompletion(t *testing.T) {
	// Earlier segments finish last
	tr := &fakeTranscriber{delays: map[int]time.Duration{
		0: 60 * time.Millisecond,
		1: 30 * time.Millisecond,
		2: 0,
	}}
	d, assembler, m := newTestDispatcher(t, tr, DispatcherConfig{})

	for i := 0; i < 3; i++ {
		d.Submit(capture.Segment{Index: i})
	}
	waitAll(t, d)

	if got, want := assembler.Render(), "text 0\n\ntext 1\n\ntext 2"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	stats := d.GetStats()
	if stats.Submitted != 3 || stats.Succeeded != 3 || stats.InFlight != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if got := testutil.ToFloat64(m.TranscriptionSuccesses); got != 3 {
		t.Errorf("Expected 3 successes recorded, got %f", got)
	}
}

func TestDispatcherFailureLeavesGap(t *testing.T) {
	tr := &fakeTranscriber{errs: map[int]error{
		1: &ResponseError{Index: 1, StatusCode: 500, Err: errors.New("boom")},
	}}
	d, assembler, m := newTestDispatcher(t, tr, DispatcherConfig{})

	var mu sync.Mutex
	var failed []int
	d.SetFailureHandler(func(segment capture.Segment, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, segment.Index)
	})

	for i := 0; i < 3; i++ {
		d.Submit(capture.Segment{Index: i})
	}
	waitAll(t, d)

	if got, want := assembler.Render(), "text 0\n\ntext 2"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	mu.Lock()
	if len(failed) != 1 || failed[0] != 1 {
		t.Errorf("Expected failure for index 1, got %v", failed)
	}
	mu.Unlock()

	if got := testutil.ToFloat64(m.TranscriptionFailures.WithLabelValues("response")); got != 1 {
		t.Errorf("Expected 1 response failure recorded, got %f", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionsInFlight); got != 0 {
		t.Errorf("Expected nothing in flight, got %f", got)
	}
}

func TestDispatcherSubmitDoesNotBlock(t *testing.T) {
	tr := &fakeTranscriber{release: make(chan struct{})}
	d, assembler, _ := newTestDispatcher(t, tr, DispatcherConfig{})

	start := time.Now()
	for i := 0; i < 20; i++ {
		d.Submit(capture.Segment{Index: i})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Submit blocked for %v", elapsed)
	}

	close(tr.release)
	waitAll(t, d)

	if assembler.Len() != 20 {
		t.Errorf("Expected 20 entries, got %d", assembler.Len())
	}
}

func TestDispatcherMaxConcurrent(t *testing.T) {
	tr := &fakeTranscriber{delays: make(map[int]time.Duration)}
	for i := 0; i < 10; i++ {
		tr.delays[i] = 10 * time.Millisecond
	}
	d, _, _ := newTestDispatcher(t, tr, DispatcherConfig{MaxConcurrent: 2})

	for i := 0; i < 10; i++ {
		d.Submit(capture.Segment{Index: i})
	}
	waitAll(t, d)

	if peak := tr.maxActive.Load(); peak > 2 {
		t.Errorf("Expected at most 2 concurrent uploads, saw %d", peak)
	}
}

func TestDispatcherWaitTimeout(t *testing.T) {
	tr := &fakeTranscriber{release: make(chan struct{})}
	d, _, _ := newTestDispatcher(t, tr, DispatcherConfig{})

	d.Submit(capture.Segment{Index: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}

	// Close aborts the blocked upload
	d.Close()
	waitAll(t, d)

	if stats := d.GetStats(); stats.Failed != 1 {
		t.Errorf("Expected aborted upload to count as failed, got %+v", stats)
	}
}

func TestNewDispatcherValidation(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	assembler := transcript.NewAssembler(testLogger(), nil)
	defer assembler.Close()

	if _, err := NewDispatcher(nil, assembler, DispatcherConfig{}, m, testLogger()); err == nil {
		t.Error("Expected error without transcriber")
	}
	if _, err := NewDispatcher(&fakeTranscriber{}, nil, DispatcherConfig{}, m, testLogger()); err == nil {
		t.Error("Expected error without sink")
	}
	if _, err := NewDispatcher(&fakeTranscriber{}, assembler, DispatcherConfig{MaxConcurrent: -1}, m, testLogger()); err == nil {
		t.Error("Expected error for negative max concurrent")
	}
}
