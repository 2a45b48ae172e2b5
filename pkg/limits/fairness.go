package limits

import (
	"sync"
	"time"
)

// slidingWindow is a bucketed counter over a rolling period. A window of
// 300s with 1s buckets uses 300 slots; entries older than the window are
// cleared on access.
type slidingWindow struct {
	mu         sync.Mutex
	window     time.Duration
	bucketSize time.Duration
	buckets    []windowBucket
}

type windowBucket struct {
	stamp time.Time
	count int64
}

func newSlidingWindow(window, bucketSize time.Duration) *slidingWindow {
	n := int(window / bucketSize)
	if n < 1 {
		n = 1
	}
	return &slidingWindow{
		window:     window,
		bucketSize: bucketSize,
		buckets:    make([]windowBucket, n),
	}
}

func (w *slidingWindow) add(n int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.pruneLocked(now)

	stamp := now.Truncate(w.bucketSize)
	idx := int(stamp.UnixNano()/int64(w.bucketSize)) % len(w.buckets)
	if !w.buckets[idx].stamp.Equal(stamp) {
		w.buckets[idx] = windowBucket{stamp: stamp}
	}
	w.buckets[idx].count += n
}

func (w *slidingWindow) sum() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(time.Now())
	var total int64
	for _, b := range w.buckets {
		total += b.count
	}
	return total
}

func (w *slidingWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.buckets {
		w.buckets[i] = windowBucket{}
	}
}

func (w *slidingWindow) lastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	var last time.Time
	for _, b := range w.buckets {
		if b.stamp.After(last) {
			last = b.stamp
		}
	}
	return last
}

func (w *slidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	for i := range w.buckets {
		if !w.buckets[i].stamp.IsZero() && w.buckets[i].stamp.Before(cutoff) {
			w.buckets[i] = windowBucket{}
		}
	}
}

// fairnessTracker enforces weighted fair shares of the gateway budget
// across tenants over a sliding window. A tenant may exceed its exact
// share by the burst allowance factor before it is throttled.
type fairnessTracker struct {
	mu         sync.Mutex
	window     time.Duration
	windows    map[string]*slidingWindow
	weights    map[string]float64
	burstAllow float64
}

func newFairnessTracker(window time.Duration, weights map[string]float64, burstAllow float64) *fairnessTracker {
	t := &fairnessTracker{
		window:     window,
		windows:    make(map[string]*slidingWindow),
		weights:    make(map[string]float64),
		burstAllow: burstAllow,
	}
	for id, w := range weights {
		t.weights[id] = w
	}
	return t
}

func (t *fairnessTracker) windowFor(tenantID string) *slidingWindow {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[tenantID]
	if !ok {
		w = newSlidingWindow(t.window, time.Second)
		t.windows[tenantID] = w
	}
	return w
}

// admit reports whether the tenant is within its fair share of the given
// per-window budget, counting the request if admitted. The second return
// is the tenant's exact fair share, before the burst allowance.
func (t *fairnessTracker) admit(tenantID string, windowBudget float64) (bool, float64) {
	w := t.windowFor(tenantID)

	t.mu.Lock()
	weight := t.weights[tenantID]
	if weight <= 0 {
		weight = 1.0
	}
	var totalWeight float64
	for id := range t.windows {
		wt := t.weights[id]
		if wt <= 0 {
			wt = 1.0
		}
		totalWeight += wt
	}
	burst := t.burstAllow
	t.mu.Unlock()

	if totalWeight <= 0 {
		totalWeight = weight
	}
	share := windowBudget * weight / totalWeight

	if float64(w.sum()) >= share*burst {
		return false, share
	}
	w.add(1)
	return true, share
}

// usage returns the tenant's current window count.
func (t *fairnessTracker) usage(tenantID string) int64 {
	return t.windowFor(tenantID).sum()
}

// setWeights replaces the tenant weight table at runtime.
func (t *fairnessTracker) setWeights(weights map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.weights = make(map[string]float64, len(weights))
	for id, w := range weights {
		t.weights[id] = w
	}
}

// resetTenant clears a tenant's window.
func (t *fairnessTracker) resetTenant(tenantID string) {
	t.windowFor(tenantID).reset()
}

// sweep drops windows idle past the threshold so one-off tenants do not
// accumulate.
func (t *fairnessTracker) sweep(idleAfter time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-idleAfter)
	removed := 0
	for id, w := range t.windows {
		last := w.lastActivity()
		if last.IsZero() || last.Before(cutoff) {
			delete(t.windows, id)
			removed++
		}
	}
	return removed
}
