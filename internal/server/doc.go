// Package server exposes the voice capture pipeline over HTTP: recording
// control, the status read model, the assembled transcript, a WebSocket live
// feed and Prometheus metrics.
package server
