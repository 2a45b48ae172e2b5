package strategies

// leastConnections picks the candidate with the fewest in-flight
// requests. Ties fall through to weighted-random over the tied set so a
// cold start does not pin every request to one server.
type leastConnections struct {
	tiebreak weighted
}

func (s *leastConnections) Name() string { return PolicyLeastConnections }

func (s *leastConnections) Select(key string, candidates []*Candidate) *Candidate {
	min := candidates[0].Metrics.ActiveConnections
	for _, c := range candidates[1:] {
		if c.Metrics.ActiveConnections < min {
			min = c.Metrics.ActiveConnections
		}
	}

	var tied []*Candidate
	for _, c := range candidates {
		if c.Metrics.ActiveConnections == min {
			tied = append(tied, c)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	return s.tiebreak.Select(key, tied)
}
