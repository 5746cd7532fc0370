// Package metrics defines the Prometheus metrics of the voice capture service.
package metrics
