package strategies

import (
	"fmt"

	"stellar-hq/hermes/pkg/breaker"
	"stellar-hq/hermes/pkg/storage"
)

// Candidate is one routable server with its current metrics and the
// composite score computed by the router.
type Candidate struct {
	Server  *storage.ServerRecord
	Metrics breaker.MetricsSnapshot
	Score   float64
}

// Strategy selects one candidate from a non-empty list. The key carries
// request affinity (session or tenant identity) and is only meaningful
// to the consistent-hash strategy.
type Strategy interface {
	Name() string
	Select(key string, candidates []*Candidate) *Candidate
}

// Policy names accepted by New.
const (
	PolicyRoundRobin       = "round_robin"
	PolicyRandom           = "random"
	PolicyLeastConnections = "least_connections"
	PolicyWeighted         = "weighted"
	PolicyConsistentHash   = "consistent_hash"
)

// New builds the named strategy. virtualNodes only applies to
// consistent_hash.
func New(policy string, virtualNodes int) (Strategy, error) {
	switch policy {
	case PolicyRoundRobin:
		return &roundRobin{}, nil
	case PolicyRandom:
		return &random{}, nil
	case PolicyLeastConnections:
		return &leastConnections{}, nil
	case PolicyWeighted:
		return &weighted{}, nil
	case PolicyConsistentHash:
		return newConsistentHash(virtualNodes), nil
	default:
		return nil, fmt.Errorf("unknown routing policy %q", policy)
	}
}
