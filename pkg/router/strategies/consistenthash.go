package strategies

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// consistentHash maps an affinity key onto a hash ring of virtual nodes.
// The ring is rebuilt only when the candidate id set changes, so a stable
// membership keeps key-to-server assignments stable.
type consistentHash struct {
	virtualNodes int

	mu      sync.Mutex
	ring    []ringEntry
	members string
}

type ringEntry struct {
	hash     uint32
	serverID string
}

func newConsistentHash(virtualNodes int) *consistentHash {
	if virtualNodes <= 0 {
		virtualNodes = 100
	}
	return &consistentHash{virtualNodes: virtualNodes}
}

func (s *consistentHash) Name() string { return PolicyConsistentHash }

func (s *consistentHash) Select(key string, candidates []*Candidate) *Candidate {
	byID := make(map[string]*Candidate, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		byID[c.Server.ID] = c
		ids = append(ids, c.Server.ID)
	}
	sort.Strings(ids)

	s.mu.Lock()
	s.rebuildLocked(ids)
	target := s.lookupLocked(key)
	s.mu.Unlock()

	if c, ok := byID[target]; ok {
		return c
	}
	return candidates[0]
}

func (s *consistentHash) rebuildLocked(sortedIDs []string) {
	signature := fmt.Sprint(sortedIDs)
	if signature == s.members {
		return
	}

	s.ring = s.ring[:0]
	for _, id := range sortedIDs {
		for v := 0; v < s.virtualNodes; v++ {
			s.ring = append(s.ring, ringEntry{
				hash:     hashKey(fmt.Sprintf("%s#%d", id, v)),
				serverID: id,
			})
		}
	}
	sort.Slice(s.ring, func(i, j int) bool { return s.ring[i].hash < s.ring[j].hash })
	s.members = signature
}

func (s *consistentHash) lookupLocked(key string) string {
	h := hashKey(key)
	idx := sort.Search(len(s.ring), func(i int) bool { return s.ring[i].hash >= h })
	if idx == len(s.ring) {
		idx = 0
	}
	return s.ring[idx].serverID
}

func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
