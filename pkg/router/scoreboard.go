package router

import (
	"sync"
	"time"

	"stellar-hq/hermes/pkg/breaker"
)

// scoreboard holds the per-server request metrics consulted by routing
// decisions. Entries are created lazily and evicted by the sweep.
type scoreboard struct {
	mu      sync.RWMutex
	entries map[string]*breaker.ServerMetrics
}

func newScoreboard() *scoreboard {
	return &scoreboard{entries: make(map[string]*breaker.ServerMetrics)}
}

func (b *scoreboard) get(serverID string) *breaker.ServerMetrics {
	b.mu.RLock()
	sm, ok := b.entries[serverID]
	b.mu.RUnlock()
	if ok {
		return sm
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if sm, ok := b.entries[serverID]; ok {
		return sm
	}
	sm = &breaker.ServerMetrics{}
	b.entries[serverID] = sm
	return sm
}

func (b *scoreboard) snapshot(serverID string) breaker.MetricsSnapshot {
	return b.get(serverID).Snapshot()
}

func (b *scoreboard) forget(serverID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, serverID)
}

// sweep removes entries whose server is no longer registered or that have
// been idle past the threshold. Entries never touched are kept; they hold
// no samples yet.
func (b *scoreboard) sweep(registered map[string]struct{}, idleAfter time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-idleAfter)
	evicted := 0
	for id, sm := range b.entries {
		if _, ok := registered[id]; !ok {
			delete(b.entries, id)
			evicted++
			continue
		}
		last := sm.Snapshot().LastUpdated
		if !last.IsZero() && last.Before(cutoff) {
			delete(b.entries, id)
			evicted++
		}
	}
	return evicted
}
