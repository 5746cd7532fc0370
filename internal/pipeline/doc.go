// Package pipeline wires the recorder, the transcription dispatcher and the
// transcript assembler into one service.
//
// The Manager acquires the audio input for each recording, forwards recorder
// events to metrics, and keeps a Snapshot read model that HTTP handlers and
// websocket clients subscribe to.
package pipeline
