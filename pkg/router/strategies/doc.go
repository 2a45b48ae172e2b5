// Package strategies implements the load-balancing policies used by the
// router: round_robin, random, least_connections, weighted, and
// consistent_hash.
package strategies
