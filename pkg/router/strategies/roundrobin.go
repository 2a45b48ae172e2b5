package strategies

import "sync/atomic"

// roundRobin cycles through candidates in order. The counter advances
// globally, so the rotation stays even as the candidate set changes.
type roundRobin struct {
	counter atomic.Uint64
}

func (s *roundRobin) Name() string { return PolicyRoundRobin }

func (s *roundRobin) Select(_ string, candidates []*Candidate) *Candidate {
	n := s.counter.Add(1) - 1
	return candidates[n%uint64(len(candidates))]
}
