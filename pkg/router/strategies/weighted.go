package strategies

import (
	"math/rand"
	"sort"
)

// weighted keeps the top half of candidates by composite score and picks
// among them with probability proportional to score.
type weighted struct{}

func (s *weighted) Name() string { return PolicyWeighted }

func (s *weighted) Select(_ string, candidates []*Candidate) *Candidate {
	sorted := make([]*Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	keep := (len(sorted) + 1) / 2
	pool := sorted[:keep]

	var total float64
	for _, c := range pool {
		total += c.Score
	}
	if total <= 0 {
		return pool[rand.Intn(len(pool))]
	}

	pick := rand.Float64() * total
	for _, c := range pool {
		pick -= c.Score
		if pick <= 0 {
			return c
		}
	}
	return pool[len(pool)-1]
}
