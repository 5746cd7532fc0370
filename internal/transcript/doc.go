// Package transcript assembles transcription results into one ordered text.
// Results arrive keyed by segment index in completion order; the rendered
// transcript is always in index order with missing segments skipped.
package transcript
