package capture

import (
	"time"
)

// Segment is a finalized capture file. It is never mutated after creation.
type Segment struct {
	Index      int           `json:"index"`
	SessionID  string        `json:"session_id"`
	Path       string        `json:"path"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at"`
}

// Session is one live capture file. Exactly one is open at a time.
type Session interface {
	Index() int
	ID() string
	StartedAt() time.Time
	// Duration is the audio recorded into the session so far
	Duration() time.Duration
	// Finalize closes the session and returns its segment
	Finalize() (Segment, error)
}

// Meter is the power sampler of an audio input
type Meter interface {
	// Power returns the average power in dBFS since the previous call.
	// When no audio arrived in between, the previous reading is held.
	Power() float64
}

// Device is an acquired audio input that can meter and record
type Device interface {
	Meter
	Open(index int) (Session, error)
}

// Stream is implemented by devices whose input can end on its own, such as a
// capture process that exits or a file that runs out.
type Stream interface {
	// Done is closed when the input stops producing audio
	Done() <-chan struct{}
	// Err is the read error that ended the input, or nil at end of stream
	Err() error
}
