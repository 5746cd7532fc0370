package transcript

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Separator joins consecutive entries in the rendered transcript
const Separator = "\n\n"

// ErrClosed is returned when an entry arrives after the assembler was closed
var ErrClosed = errors.New("transcript assembler closed")

// Entry is the transcribed text of one segment, keyed by its sequence index
type Entry struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Rendering is the transcript text after a number of applied updates.
// A higher Version is always a newer rendering.
type Rendering struct {
	Text    string
	Version uint64
}

// ChangeFunc is called on the assembler goroutine after an entry changes the
// transcript. It must not call Receive or Entries.
type ChangeFunc func(entry Entry, rendering Rendering)

// Assembler keeps transcription results in sequence order regardless of the
// order they complete in. The index to text mapping is owned by a single
// goroutine; writes reach it through a channel and readers see the last
// fully applied rendering.
type Assembler struct {
	logger   *slog.Logger
	onChange ChangeFunc

	ops  chan op
	quit chan struct{}
	done chan struct{}

	rendered atomic.Pointer[Rendering]
	count    atomic.Int64

	closeOnce sync.Once
}

// op is a unit of work for the owning goroutine
type op struct {
	entry    Entry
	snapshot bool
	applied  chan bool
	entries  chan []Entry
}

// Stats represents assembler statistics
type Stats struct {
	Entries int    `json:"entries"`
	Updates uint64 `json:"updates"`
	Length  int    `json:"length"`
}

// NewAssembler starts an assembler. onChange may be nil.
func NewAssembler(logger *slog.Logger, onChange ChangeFunc) *Assembler {
	a := &Assembler{
		logger:   logger,
		onChange: onChange,
		ops:      make(chan op),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	a.rendered.Store(&Rendering{})

	go a.run()

	return a
}

// run owns the entry map for the lifetime of the assembler
func (a *Assembler) run() {
	defer close(a.done)

	entries := make(map[int]string)
	var version uint64

	for {
		select {
		case <-a.quit:
			return
		case o := <-a.ops:
			if o.snapshot {
				o.entries <- sortedEntries(entries)
				continue
			}

			if text, ok := entries[o.entry.Index]; ok && text == o.entry.Text {
				o.applied <- false
				continue
			}

			entries[o.entry.Index] = o.entry.Text
			version++
			rendering := Rendering{Text: Join(sortedEntries(entries)), Version: version}
			a.rendered.Store(&rendering)
			a.count.Store(int64(len(entries)))

			a.logger.Debug("Transcript updated",
				slog.Int("index", o.entry.Index),
				slog.Int("entries", len(entries)),
			)

			if a.onChange != nil {
				a.onChange(o.entry, rendering)
			}

			o.applied <- true
		}
	}
}

// Receive upserts an entry and blocks until it is applied. It reports whether
// the transcript changed; receiving the same entry twice is a no-op.
func (a *Assembler) Receive(entry Entry) (bool, error) {
	o := op{entry: entry, applied: make(chan bool, 1)}

	select {
	case a.ops <- o:
	case <-a.quit:
		return false, ErrClosed
	}

	return <-o.applied, nil
}

// Render returns the transcript: entries in ascending index order joined by a
// blank line. Missing indices and blank entries are skipped.
func (a *Assembler) Render() string {
	return a.rendered.Load().Text
}

// Current returns the latest rendering together with its version
func (a *Assembler) Current() Rendering {
	return *a.rendered.Load()
}

// Entries returns a sorted copy of the stored entries
func (a *Assembler) Entries() []Entry {
	o := op{snapshot: true, entries: make(chan []Entry, 1)}

	select {
	case a.ops <- o:
	case <-a.quit:
		return nil
	}

	return <-o.entries
}

// Len returns the number of stored entries
func (a *Assembler) Len() int {
	return int(a.count.Load())
}

// GetStats returns current assembler statistics
func (a *Assembler) GetStats() Stats {
	current := a.Current()
	return Stats{
		Entries: a.Len(),
		Updates: current.Version,
		Length:  len(current.Text),
	}
}

// Close stops the owning goroutine. The last rendering stays readable.
func (a *Assembler) Close() {
	a.closeOnce.Do(func() {
		close(a.quit)
	})
	<-a.done
}

func sortedEntries(entries map[int]string) []Entry {
	out := make([]Entry, 0, len(entries))
	for index, text := range entries {
		out = append(out, Entry{Index: index, Text: text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Join renders entries, given in ascending index order, as a transcript.
// Blank entries are skipped.
func Join(entries []Entry) string {
	var parts []string
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, Separator)
}
