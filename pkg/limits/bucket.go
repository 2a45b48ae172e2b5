package limits

import (
	"sync"
	"time"
)

// tokenBucket is the in-process bucket used when distributed limiting is
// off or the cache store is unreachable.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	refill   float64 // tokens per second
	last     time.Time
}

func newTokenBucket(capacity, refillPerSec float64) *tokenBucket {
	return &tokenBucket{
		tokens:   capacity,
		capacity: capacity,
		refill:   refillPerSec,
		last:     time.Now(),
	}
}

// take attempts to consume cost tokens, refilling from elapsed time
// first. On denial it reports how long until enough tokens accrue.
func (b *tokenBucket) take(cost float64) (allowed bool, remaining float64, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refill
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now

	if b.tokens >= cost {
		b.tokens -= cost
		return true, b.tokens, 0
	}
	if b.refill > 0 {
		retryAfter = time.Duration((cost - b.tokens) / b.refill * float64(time.Second))
	}
	return false, b.tokens, retryAfter
}

// reconfigure updates capacity and refill rate in place, clamping stored
// tokens to the new capacity.
func (b *tokenBucket) reconfigure(capacity, refillPerSec float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = capacity
	b.refill = refillPerSec
	if b.tokens > capacity {
		b.tokens = capacity
	}
}

func (b *tokenBucket) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// bucketSet is a keyed collection of in-process buckets.
type bucketSet struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func newBucketSet() *bucketSet {
	return &bucketSet{buckets: make(map[string]*tokenBucket)}
}

func (s *bucketSet) get(key string, capacity, refillPerSec float64) *tokenBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = newTokenBucket(capacity, refillPerSec)
		s.buckets[key] = b
	} else {
		b.reconfigure(capacity, refillPerSec)
	}
	return b
}

func (s *bucketSet) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
}

func (s *bucketSet) sweep(idleAfter time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-idleAfter)
	removed := 0
	for key, b := range s.buckets {
		if b.idleSince().Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}
