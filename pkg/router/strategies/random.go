package strategies

import "math/rand"

// random picks uniformly among candidates.
type random struct{}

func (s *random) Name() string { return PolicyRandom }

func (s *random) Select(_ string, candidates []*Candidate) *Candidate {
	return candidates[rand.Intn(len(candidates))]
}
