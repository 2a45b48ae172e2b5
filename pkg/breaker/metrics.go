package breaker

import (
	"sync"
	"time"
)

const responseSampleSize = 100

// ServerMetrics tracks request outcomes and response times for one
// back-end server. Response times are kept in a fixed ring of the most
// recent samples.
type ServerMetrics struct {
	mu sync.Mutex

	totalRequests int64
	totalFailures int64
	activeConns   int

	samples [responseSampleSize]float64
	nSample int
	next    int

	lastUpdated time.Time
}

// RecordResult records one completed request with its response time.
func (sm *ServerMetrics) RecordResult(success bool, elapsed time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.totalRequests++
	if !success {
		sm.totalFailures++
	}
	sm.samples[sm.next] = float64(elapsed.Milliseconds())
	sm.next = (sm.next + 1) % responseSampleSize
	if sm.nSample < responseSampleSize {
		sm.nSample++
	}
	sm.lastUpdated = time.Now()
}

// IncConnections marks one in-flight request started.
func (sm *ServerMetrics) IncConnections() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.activeConns++
	sm.lastUpdated = time.Now()
}

// DecConnections marks one in-flight request finished. It never goes
// negative.
func (sm *ServerMetrics) DecConnections() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.activeConns > 0 {
		sm.activeConns--
	}
	sm.lastUpdated = time.Now()
}

// MetricsSnapshot is a consistent read of one server's metrics.
type MetricsSnapshot struct {
	TotalRequests     int64     `json:"total_requests"`
	TotalFailures     int64     `json:"total_failures"`
	SuccessRate       float64   `json:"success_rate"`
	AvgResponseMs     float64   `json:"avg_response_ms"`
	ActiveConnections int       `json:"active_connections"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Snapshot returns a consistent copy of the current metrics. A server
// with no recorded requests reports a success rate of 1.0 so it is not
// penalized by scoring before it has served anything.
func (sm *ServerMetrics) Snapshot() MetricsSnapshot {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	snap := MetricsSnapshot{
		TotalRequests:     sm.totalRequests,
		TotalFailures:     sm.totalFailures,
		ActiveConnections: sm.activeConns,
		LastUpdated:       sm.lastUpdated,
		SuccessRate:       1.0,
	}
	if sm.totalRequests > 0 {
		snap.SuccessRate = float64(sm.totalRequests-sm.totalFailures) / float64(sm.totalRequests)
	}
	if sm.nSample > 0 {
		var sum float64
		for i := 0; i < sm.nSample; i++ {
			sum += sm.samples[i]
		}
		snap.AvgResponseMs = sum / float64(sm.nSample)
	}
	return snap
}

// Score computes the composite desirability of a server from its metrics
// using the given component weights. Higher is better; the result is in
// (0, 1].
func (snap MetricsSnapshot) Score(healthWeight, latencyWeight, capacityWeight float64) float64 {
	healthScore := snap.SuccessRate
	latencyScore := 1.0 / (1.0 + snap.AvgResponseMs/100.0)
	capacityScore := 1.0 / (1.0 + float64(snap.ActiveConnections)/10.0)

	return healthWeight*healthScore +
		latencyWeight*latencyScore +
		capacityWeight*capacityScore
}
