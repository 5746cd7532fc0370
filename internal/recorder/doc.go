// Package recorder implements the segment recorder state machine.
//
// A Recorder moves between three states:
//
//	Idle      no capture session is open
//	Recording a session at index N receives audio
//	Rotating  session N is being finalized and session N+1 opened
//
// While recording, the meter is polled at a fixed interval. Each reading
// feeds the silence detector; voiced readings accumulate voiced time. When
// a silent reading arrives after more than the minimum voiced time, the live
// session is finalized and the next index is opened in the same step.
// Segments longer than the minimum segment duration are handed to a
// Submitter; the index is consumed either way.
package recorder
