package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"stellar-hq/hermes/pkg/config"
)

// Manager holds one circuit breaker per back-end server. Breakers are
// created lazily on first use and removed when a server is unregistered.
type Manager struct {
	cfg      *config.BreakerConfig
	mu       sync.RWMutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
	logger   *slog.Logger
}

// NewManager creates a breaker manager with the configured thresholds.
func NewManager(cfg *config.BreakerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		logger:   slog.Default().With("component", "breaker"),
	}
}

func (m *Manager) get(serverID string) *gobreaker.TwoStepCircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[serverID]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[serverID]; ok {
		return cb
	}

	failures := uint32(m.cfg.FailureThreshold)
	successes := uint32(m.cfg.SuccessThreshold)
	logger := m.logger

	cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        serverID,
		MaxRequests: successes,
		Timeout:     m.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state changed",
				"server_id", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	m.breakers[serverID] = cb
	return cb
}

// CanExecute reports whether the server's circuit currently admits
// requests. It never consumes a half-open slot; callers that go on to
// forward must pair it with Begin.
func (m *Manager) CanExecute(serverID string) bool {
	return m.get(serverID).State() != gobreaker.StateOpen
}

// State returns the circuit state for a server.
func (m *Manager) State(serverID string) gobreaker.State {
	return m.get(serverID).State()
}

// Begin reserves an execution slot on the server's circuit. The returned
// done function must be called exactly once with the request outcome.
// An error means the circuit is open (or half-open and saturated) and the
// request must not be forwarded.
func (m *Manager) Begin(serverID string) (done func(success bool), err error) {
	return m.get(serverID).Allow()
}

// Remove drops the breaker for an unregistered server.
func (m *Manager) Remove(serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, serverID)
}

// Counts returns the raw gobreaker counters for a server, used by the
// health surface.
func (m *Manager) Counts(serverID string) gobreaker.Counts {
	return m.get(serverID).Counts()
}

// Snapshot describes one circuit for the admin surface.
type Snapshot struct {
	ServerID    string    `json:"server_id"`
	State       string    `json:"state"`
	Requests    uint32    `json:"requests"`
	Failures    uint32    `json:"total_failures"`
	Successes   uint32    `json:"total_successes"`
	Consecutive uint32    `json:"consecutive_failures"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Snapshots returns the current state of every known circuit.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	out := make([]Snapshot, 0, len(m.breakers))
	for id, cb := range m.breakers {
		counts := cb.Counts()
		out = append(out, Snapshot{
			ServerID:    id,
			State:       cb.State().String(),
			Requests:    counts.Requests,
			Failures:    counts.TotalFailures,
			Successes:   counts.TotalSuccesses,
			Consecutive: counts.ConsecutiveFailures,
			ObservedAt:  now,
		})
	}
	return out
}
