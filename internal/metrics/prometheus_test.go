package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegisterPerRegistry(t *testing.T) {
	// Separate registries must not collide
	first := NewMetrics(prometheus.NewRegistry())
	second := NewMetrics(prometheus.NewRegistry())

	first.RecordRotation()

	if got := testutil.ToFloat64(first.Rotations); got != 1 {
		t.Errorf("Expected 1 rotation, got %f", got)
	}
	if got := testutil.ToFloat64(second.Rotations); got != 0 {
		t.Errorf("Expected registries to be independent, got %f", got)
	}
}

func TestTranscriptionInFlight(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTranscriptionRequest()
	m.RecordTranscriptionRequest()
	m.RecordTranscriptionSuccess(0.5)

	if got := testutil.ToFloat64(m.TranscriptionsInFlight); got != 1 {
		t.Errorf("Expected 1 in flight, got %f", got)
	}

	m.RecordTranscriptionFailure("response", 0.2)

	if got := testutil.ToFloat64(m.TranscriptionsInFlight); got != 0 {
		t.Errorf("Expected 0 in flight, got %f", got)
	}
	if got := testutil.ToFloat64(m.TranscriptionFailures.WithLabelValues("response")); got != 1 {
		t.Errorf("Expected 1 response failure, got %f", got)
	}
}

func TestRecordSegmentFinalized(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSegmentFinalized(2.0, true)
	m.RecordSegmentFinalized(0.3, false)

	if got := testutil.ToFloat64(m.SegmentsFinalized); got != 2 {
		t.Errorf("Expected 2 finalized, got %f", got)
	}
	if got := testutil.ToFloat64(m.SegmentsSubmitted); got != 1 {
		t.Errorf("Expected 1 submitted, got %f", got)
	}
	if got := testutil.ToFloat64(m.SegmentsDiscarded); got != 1 {
		t.Errorf("Expected 1 discarded, got %f", got)
	}
}
