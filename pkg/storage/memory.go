package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation used for tests and
// the "memory" backend. All maps are guarded by one mutex; values are
// copied on the way in and out so callers never share state with the
// store.
type MemoryStorage struct {
	mu        sync.RWMutex
	servers   map[string]*ServerRecord
	tools     map[string][]ToolRecord
	resources map[string][]ResourceRecord
	tenants   map[string]*Tenant
	users     map[string]*User
	keys      map[string]*APIKey // by id
	keyHashes map[string]string  // hash -> id
	logs      []*RequestLog
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		servers:   make(map[string]*ServerRecord),
		tools:     make(map[string][]ToolRecord),
		resources: make(map[string][]ResourceRecord),
		tenants:   make(map[string]*Tenant),
		users:     make(map[string]*User),
		keys:      make(map[string]*APIKey),
		keyHashes: make(map[string]string),
	}
}

func (m *MemoryStorage) Close() error { return nil }

// ----------------------------------------------------------------------------
// Servers
// ----------------------------------------------------------------------------

func (m *MemoryStorage) RegisterServer(_ context.Context, rec *ServerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[rec.ID]; ok {
		return ErrDuplicateServer
	}
	for _, existing := range m.servers {
		if existing.TenantID == rec.TenantID && existing.Name == rec.Name {
			return ErrDuplicateServer
		}
	}
	m.servers[rec.ID] = copyServer(rec)
	return nil
}

func (m *MemoryStorage) UpdateServer(_ context.Context, rec *ServerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.servers[rec.ID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range m.servers {
		if id != rec.ID && other.TenantID == existing.TenantID && other.Name == rec.Name {
			return ErrDuplicateServer
		}
	}
	existing.Name = rec.Name
	existing.Version = rec.Version
	existing.Capabilities = rec.Capabilities
	existing.Tags = append([]string(nil), rec.Tags...)
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStorage) DeleteServer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[id]; !ok {
		return ErrNotFound
	}
	delete(m.servers, id)
	delete(m.tools, id)
	delete(m.resources, id)
	return nil
}

func (m *MemoryStorage) GetServer(_ context.Context, id string) (*ServerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyServer(rec)
	out.Tools = append([]ToolRecord(nil), m.tools[id]...)
	out.Resources = append([]ResourceRecord(nil), m.resources[id]...)
	return out, nil
}

func (m *MemoryStorage) FindServers(_ context.Context, filter ServerFilter) ([]*ServerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ServerRecord
	for id, rec := range m.servers {
		if filter.TenantID != nil && rec.TenantID != *filter.TenantID {
			continue
		}
		if filter.HealthStatus != nil && rec.HealthStatus != *filter.HealthStatus {
			continue
		}
		candidate := copyServer(rec)
		candidate.Tools = append([]ToolRecord(nil), m.tools[id]...)
		candidate.Resources = append([]ResourceRecord(nil), m.resources[id]...)
		if !MatchesFilter(candidate, filter) {
			continue
		}
		if !filter.Hydrate {
			candidate.Tools = nil
			candidate.Resources = nil
		}
		out = append(out, candidate)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStorage) MarkServerHealth(_ context.Context, id string, status HealthStatus, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	rec.HealthStatus = status
	rec.LastHealthCheck = checkedAt
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStorage) UpdateServerPerf(_ context.Context, id string, perf PerfSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	rec.Perf = perf
	return nil
}

// ----------------------------------------------------------------------------
// Capabilities
// ----------------------------------------------------------------------------

func (m *MemoryStorage) ReplaceTools(_ context.Context, serverID string, tools []ToolRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[serverID] = append([]ToolRecord(nil), tools...)
	return nil
}

func (m *MemoryStorage) ReplaceResources(_ context.Context, serverID string, resources []ResourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[serverID] = append([]ResourceRecord(nil), resources...)
	return nil
}

func (m *MemoryStorage) IncrementToolCall(_ context.Context, serverID, tool string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tools[serverID] {
		if m.tools[serverID][i].Name == tool {
			m.tools[serverID][i].CallCount++
			return nil
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Tenants and users
// ----------------------------------------------------------------------------

func (m *MemoryStorage) CreateTenant(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetTenant(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStorage) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// ----------------------------------------------------------------------------
// API keys
// ----------------------------------------------------------------------------

func (m *MemoryStorage) CreateAPIKey(_ context.Context, k *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[k.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := m.keyHashes[k.Hash]; ok {
		return ErrDuplicateKey
	}
	cp := *k
	cp.Scopes = append([]string(nil), k.Scopes...)
	m.keys[k.ID] = &cp
	m.keyHashes[k.Hash] = k.ID
	return nil
}

func (m *MemoryStorage) LookupAPIKeyByHash(_ context.Context, hash string) (*APIKeyWithUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.keyHashes[hash]
	if !ok {
		return nil, ErrNotFound
	}
	k := m.keys[id]
	u, ok := m.users[k.UserID]
	if !ok {
		return nil, ErrNotFound
	}
	out := &APIKeyWithUser{Key: *k, User: *u}
	out.Key.Scopes = append([]string(nil), k.Scopes...)
	return out, nil
}

func (m *MemoryStorage) TouchAPIKey(_ context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	t := usedAt
	k.LastUsedAt = &t
	return nil
}

// ----------------------------------------------------------------------------
// Audit
// ----------------------------------------------------------------------------

func (m *MemoryStorage) AppendRequestLog(_ context.Context, row *RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *row
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *MemoryStorage) ListRequestLogs(_ context.Context, limit int) ([]*RequestLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	sorted := append([]*RequestLog(nil), m.logs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.After(sorted[j].StartedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]*RequestLog, len(sorted))
	for i, r := range sorted {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStorage) PruneRequestLogs(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*RequestLog
	var pruned int64
	for _, r := range m.logs {
		if r.StartedAt.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	m.logs = kept
	return pruned, nil
}

func copyServer(rec *ServerRecord) *ServerRecord {
	cp := *rec
	cp.Tags = append([]string(nil), rec.Tags...)
	cp.Capabilities.Tools = append([]string(nil), rec.Capabilities.Tools...)
	cp.Capabilities.Resources = append([]string(nil), rec.Capabilities.Resources...)
	cp.Tools = nil
	cp.Resources = nil
	return &cp
}
