package proxy

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ActiveRequest describes one in-flight proxied request.
type ActiveRequest struct {
	RequestID string    `json:"request_id"`
	Method    string    `json:"method"`
	ServerID  string    `json:"server_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	StartedAt time.Time `json:"started_at"`

	cancel context.CancelFunc
}

// activeTable tracks in-flight requests so they can be listed and
// cancelled by id.
type activeTable struct {
	mu      sync.Mutex
	entries map[string]*ActiveRequest
}

func newActiveTable() *activeTable {
	return &activeTable{entries: make(map[string]*ActiveRequest)}
}

func (t *activeTable) add(req *ActiveRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[req.RequestID] = req
}

func (t *activeTable) remove(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, requestID)
}

func (t *activeTable) cancel(requestID string) bool {
	t.mu.Lock()
	req, ok := t.entries[requestID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	req.cancel()
	return true
}

func (t *activeTable) list() []ActiveRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ActiveRequest, 0, len(t.entries))
	for _, req := range t.entries {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
