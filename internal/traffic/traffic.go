package traffic

import (
	"sync"
	"time"
)

// Outcome classifies one /weather request for health accounting.
type Outcome int

const (
	// Live: served from a fresh upstream fetch.
	Live Outcome = iota
	// Cached: upstream failed, served from the offline cache.
	Cached
	// Failed: upstream failed and nothing could be served.
	Failed
	// Denied: rejected by the rate limiter.
	Denied
)

// retention bounds how long timestamps are kept; windows longer than this undercount.
const retention = 10 * time.Minute

var defaultTracker = NewTracker()

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// RequestCount returns the number of outcomes of any kind within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of rate-limit denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.Count(Denied, window)
}

// FallbackCount returns the number of cached-fallback responses within the window.
func FallbackCount(window time.Duration) int {
	return defaultTracker.Count(Cached, window)
}

// ErrorRate returns (failures, total) within the window on the process-wide tracker.
func ErrorRate(window time.Duration) (failures, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	times map[Outcome][]time.Time
}

// NewTracker returns an empty tracker on the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now, times: make(map[Outcome][]time.Time)}
}

// Record appends the current time to the outcome's window and prunes old entries.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns the number of o outcomes within the window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], t.now().Add(-window))
}

// RequestCount returns all outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for _, times := range t.times {
		n += countSince(times, cutoff)
	}
	return n
}

// ErrorRate returns (failures, total) within the window. A cached fallback counts toward the
// total but not as a failure: the viewer was served. Denials are excluded entirely.
func (t *Tracker) ErrorRate(window time.Duration) (failures, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	failures = countSince(t.times[Failed], cutoff)
	total = failures + countSince(t.times[Live], cutoff) + countSince(t.times[Cached], cutoff)
	return failures, total
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = make(map[Outcome][]time.Time)
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o, times := range t.times {
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
