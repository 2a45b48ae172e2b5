package strategies

import (
	"fmt"
	"testing"

	"stellar-hq/hermes/pkg/breaker"
	"stellar-hq/hermes/pkg/storage"
)

func makeCandidates(n int) []*Candidate {
	out := make([]*Candidate, n)
	for i := 0; i < n; i++ {
		out[i] = &Candidate{
			Server:  &storage.ServerRecord{ID: fmt.Sprintf("srv-%d", i)},
			Metrics: breaker.MetricsSnapshot{SuccessRate: 1.0},
			Score:   1.0,
		}
	}
	return out
}

// ============================================================================
// Factory
// ============================================================================

func TestNew_KnownPolicies(t *testing.T) {
	for _, policy := range []string{
		PolicyRoundRobin, PolicyRandom, PolicyLeastConnections,
		PolicyWeighted, PolicyConsistentHash,
	} {
		s, err := New(policy, 100)
		if err != nil {
			t.Errorf("New(%q) failed: %v", policy, err)
			continue
		}
		if s.Name() != policy {
			t.Errorf("Expected name %q, got %q", policy, s.Name())
		}
	}

	if _, err := New("nonsense", 100); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

// ============================================================================
// Round robin
// ============================================================================

func TestRoundRobin_EvenRotation(t *testing.T) {
	s := &roundRobin{}
	candidates := makeCandidates(3)

	counts := make(map[string]int)
	for i := 0; i < 9; i++ {
		counts[s.Select("", candidates).Server.ID]++
	}
	for id, n := range counts {
		if n != 3 {
			t.Errorf("Expected 3 picks for %s, got %d", id, n)
		}
	}
}

// ============================================================================
// Random
// ============================================================================

func TestRandom_CoversAllCandidates(t *testing.T) {
	s := &random{}
	candidates := makeCandidates(3)

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		seen[s.Select("", candidates).Server.ID] = true
	}
	if len(seen) != 3 {
		t.Errorf("Expected all 3 candidates picked over 200 draws, got %d", len(seen))
	}
}

// ============================================================================
// Least connections
// ============================================================================

func TestLeastConnections_PicksIdlest(t *testing.T) {
	s := &leastConnections{}
	candidates := makeCandidates(3)
	candidates[0].Metrics.ActiveConnections = 5
	candidates[1].Metrics.ActiveConnections = 1
	candidates[2].Metrics.ActiveConnections = 9

	if got := s.Select("", candidates).Server.ID; got != "srv-1" {
		t.Errorf("Expected srv-1, got %s", got)
	}
}

func TestLeastConnections_TieSpreads(t *testing.T) {
	s := &leastConnections{}
	candidates := makeCandidates(3)
	candidates[2].Metrics.ActiveConnections = 10

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		seen[s.Select("", candidates).Server.ID] = true
	}
	if seen["srv-2"] {
		t.Error("Busy candidate should never win a tie it is not part of")
	}
	if !seen["srv-0"] || !seen["srv-1"] {
		t.Error("Tied candidates should both be picked over 200 draws")
	}
}

// ============================================================================
// Weighted
// ============================================================================

func TestWeighted_ExcludesBottomHalf(t *testing.T) {
	s := &weighted{}
	candidates := makeCandidates(4)
	candidates[0].Score = 0.9
	candidates[1].Score = 0.8
	candidates[2].Score = 0.1
	candidates[3].Score = 0.05

	for i := 0; i < 200; i++ {
		got := s.Select("", candidates).Server.ID
		if got == "srv-2" || got == "srv-3" {
			t.Fatalf("Bottom-half candidate %s was selected", got)
		}
	}
}

func TestWeighted_SingleCandidate(t *testing.T) {
	s := &weighted{}
	candidates := makeCandidates(1)
	if got := s.Select("", candidates).Server.ID; got != "srv-0" {
		t.Errorf("Expected srv-0, got %s", got)
	}
}

// ============================================================================
// Consistent hash
// ============================================================================

func TestConsistentHash_StableAssignment(t *testing.T) {
	s := newConsistentHash(100)
	candidates := makeCandidates(5)

	first := s.Select("tenant-a:user-1", candidates).Server.ID
	for i := 0; i < 20; i++ {
		if got := s.Select("tenant-a:user-1", candidates).Server.ID; got != first {
			t.Fatalf("Assignment moved from %s to %s with stable membership", first, got)
		}
	}
}

func TestConsistentHash_MinimalReassignment(t *testing.T) {
	s := newConsistentHash(100)
	candidates := makeCandidates(5)

	keys := make([]string, 50)
	before := make(map[string]string)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		before[keys[i]] = s.Select(keys[i], candidates).Server.ID
	}

	// Remove one server; most keys should keep their assignment.
	reduced := candidates[:4]
	moved := 0
	for _, k := range keys {
		after := s.Select(k, reduced).Server.ID
		if before[k] != after && before[k] != "srv-4" {
			moved++
		}
	}
	if moved > len(keys)/3 {
		t.Errorf("Too many keys reassigned after one removal: %d of %d", moved, len(keys))
	}
}

func TestConsistentHash_SpreadsKeys(t *testing.T) {
	s := newConsistentHash(100)
	candidates := makeCandidates(3)

	counts := make(map[string]int)
	for i := 0; i < 300; i++ {
		counts[s.Select(fmt.Sprintf("key-%d", i), candidates).Server.ID]++
	}
	if len(counts) != 3 {
		t.Errorf("Expected keys spread across all servers, got %d", len(counts))
	}
}
