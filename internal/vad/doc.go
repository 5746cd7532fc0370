// Package vad provides adaptive silence detection over metered power samples.
// Each sample is compared against a rolling baseline of recent samples minus a
// fixed margin, so the threshold follows the ambient noise floor of the room.
package vad
