// Package capture owns the audio input: acquiring and releasing it, metering
// its power, and recording it into one capture session file at a time.
// Finalized sessions become immutable Segments.
package capture
