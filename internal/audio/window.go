package audio

// DefaultWindowSize is the number of power samples in the rolling baseline
const DefaultWindowSize = 30

// RollingWindow keeps the most recent power samples and their running average.
// The average is updated incrementally on every push and always reflects
// exactly the samples currently held. It is not safe for concurrent use.
type RollingWindow struct {
	samples []float64
	head    int // next write position
	count   int
	average float64
}

// NewRollingWindow creates a window holding up to capacity samples
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &RollingWindow{samples: make([]float64, capacity)}
}

// Push adds a sample, evicting the oldest one once the window is full.
// It returns the evicted sample and whether an eviction happened.
func (w *RollingWindow) Push(value float64) (evicted float64, ok bool) {
	capacity := len(w.samples)

	if w.count < capacity {
		// Filling: plain running mean over the samples seen so far
		w.samples[w.head] = value
		w.head = (w.head + 1) % capacity
		w.count++
		w.average += (value - w.average) / float64(w.count)
		return 0, false
	}

	evicted = w.samples[w.head]
	w.samples[w.head] = value
	w.head = (w.head + 1) % capacity
	w.average += (value - evicted) / float64(capacity)
	return evicted, true
}

// Average returns the mean of the samples in the window (0 when empty)
func (w *RollingWindow) Average() float64 {
	return w.average
}

// Len returns the number of samples held
func (w *RollingWindow) Len() int {
	return w.count
}

// Cap returns the window capacity
func (w *RollingWindow) Cap() int {
	return len(w.samples)
}

// Full reports whether the window has reached capacity
func (w *RollingWindow) Full() bool {
	return w.count == len(w.samples)
}

// Reset empties the window
func (w *RollingWindow) Reset() {
	for i := range w.samples {
		w.samples[i] = 0
	}
	w.head = 0
	w.count = 0
	w.average = 0
}
