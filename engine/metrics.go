package engine

import (
	"sync"

	"github.com/terrapinhq/terrapin/interp"
)

// Metrics is the engine's rolling execution aggregate. Updates are
// serialized by the engine's single-flight guarantee; the mutex only
// protects snapshot readers.
type Metrics struct {
	mu              sync.Mutex
	totalExecutions uint64
	successCount    uint64
	failureCount    uint64
	timeoutCount    uint64
	totalWallTimeMs int64
	peakWallTimeMs  int64
}

// Snapshot is a point-in-time copy of the aggregate.
type Snapshot struct {
	TotalExecutions   uint64  `json:"totalExecutions"`
	SuccessCount      uint64  `json:"successCount"`
	FailureCount      uint64  `json:"failureCount"`
	TimeoutCount      uint64  `json:"timeoutCount"`
	TotalWallTimeMs   int64   `json:"totalWallTimeMs"`
	AverageWallTimeMs float64 `json:"averageWallTimeMs"`
	PeakWallTimeMs    int64   `json:"peakWallTimeMs"`
}

// record applies exactly one completed request to the aggregate.
func (m *Metrics) record(res interp.Result, timedOut bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalExecutions++
	if res.Success {
		m.successCount++
	} else {
		m.failureCount++
	}
	if timedOut {
		m.timeoutCount++
	}
	m.totalWallTimeMs += res.WallTimeMs
	if res.WallTimeMs > m.peakWallTimeMs {
		m.peakWallTimeMs = res.WallTimeMs
	}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		TotalExecutions: m.totalExecutions,
		SuccessCount:    m.successCount,
		FailureCount:    m.failureCount,
		TimeoutCount:    m.timeoutCount,
		TotalWallTimeMs: m.totalWallTimeMs,
		PeakWallTimeMs:  m.peakWallTimeMs,
	}
	if m.totalExecutions > 0 {
		s.AverageWallTimeMs = float64(m.totalWallTimeMs) / float64(m.totalExecutions)
	}
	return s
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalExecutions = 0
	m.successCount = 0
	m.failureCount = 0
	m.timeoutCount = 0
	m.totalWallTimeMs = 0
	m.peakWallTimeMs = 0
}
