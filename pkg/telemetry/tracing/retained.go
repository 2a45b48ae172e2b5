package tracing

import (
	"sync"
	"time"
)

// TraceSummary is the retained record of one completed proxied request,
// exposed by the trace analytics endpoint.
type TraceSummary struct {
	TraceID   string        `json:"trace_id"`
	RequestID string        `json:"request_id"`
	Method    string        `json:"method"`
	TenantID  string        `json:"tenant_id,omitempty"`
	UserID    string        `json:"user_id,omitempty"`
	ServerID  string        `json:"server_id,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`

	// Stages holds per-stage durations keyed by span name (auth,
	// rate_limit, routing, proxy_forward).
	Stages map[string]time.Duration `json:"stages,omitempty"`
}

// traceBuffer is a bounded FIFO of completed trace summaries.
type traceBuffer struct {
	mu      sync.Mutex
	entries []TraceSummary
	max     int
}

func newTraceBuffer(max int) *traceBuffer {
	if max <= 0 {
		max = 500
	}
	return &traceBuffer{max: max}
}

func (b *traceBuffer) add(summary TraceSummary) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, summary)
	if len(b.entries) > b.max {
		// Drop the oldest entries in one slide.
		excess := len(b.entries) - b.max
		b.entries = append(b.entries[:0], b.entries[excess:]...)
	}
}

func (b *traceBuffer) snapshot() []TraceSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]TraceSummary, len(b.entries))
	copy(out, b.entries)
	return out
}
