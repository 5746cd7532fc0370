package transcription

import (
	"sync"
	"time"
)

// ClientStats represents client statistics
type ClientStats struct {
	Backend         string        `json:"backend"`
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// requestStats tracks request counters shared by the transcriber backends
type requestStats struct {
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration
	activeRequests  int

	mu sync.RWMutex
}

func (s *requestStats) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	s.activeRequests++
}

func (s *requestStats) end(success bool, responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeRequests--
	if !success {
		s.failedRequests++
		return
	}

	s.successRequests++

	// Simple moving average
	if s.avgResponseTime == 0 {
		s.avgResponseTime = responseTime
	} else {
		s.avgResponseTime = (s.avgResponseTime + responseTime) / 2
	}
}

func (s *requestStats) snapshot(backend string) ClientStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	successRate := float64(0)
	if s.totalRequests > 0 {
		successRate = float64(s.successRequests) / float64(s.totalRequests) * 100
	}

	return ClientStats{
		Backend:         backend,
		TotalRequests:   s.totalRequests,
		SuccessRequests: s.successRequests,
		FailedRequests:  s.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: s.avgResponseTime,
		ActiveRequests:  s.activeRequests,
	}
}
