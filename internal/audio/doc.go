// Package audio handles PCM level metering, power normalization and WAV encoding.
// It provides the rolling power window used as the adaptive silence baseline and
// a streaming WAV writer for capture segments.
package audio
