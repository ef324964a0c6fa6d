// Package traffic keeps sliding windows of request outcomes. It is the single source for
// the health endpoint's overload (rate-limit denials) and degraded (fetch error rate) checks.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a recorded event.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeDenied
	numOutcomes
)

// retention bounds how far back any window can look.
const retention = 5 * time.Minute

var defaultTracker = NewTracker(time.Now)

// RecordSuccess records a successful dashboard fetch.
func RecordSuccess() { defaultTracker.Record(OutcomeSuccess) }

// RecordError records a failed dashboard fetch (upstream error, timeout, malformed payload).
func RecordError() { defaultTracker.Record(OutcomeError) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(OutcomeDenied) }

// RequestCount returns success + error + denied within the window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.Count(OutcomeDenied, window) }

// ErrorRate returns (errors, successes+errors) within the window.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

// Tracker maintains per-outcome timestamp windows.
type Tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	times [numOutcomes][]time.Time
}

// NewTracker returns a Tracker reading time from now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.RecordN(o, 1)
}

// RecordN appends n outcomes at the current time.
func (t *Tracker) RecordN(o Outcome, n int) {
	if o < 0 || o >= numOutcomes || n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for i := 0; i < n; i++ {
		t.times[o] = append(t.times[o], now)
	}
	t.pruneLocked(now)
}

// Count returns the number of o outcomes within the window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	if o < 0 || o >= numOutcomes {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], t.now().Add(-window))
}

// RequestCount returns the number of outcomes of any kind within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for o := range t.times {
		n += countSince(t.times[o], cutoff)
	}
	return n
}

// ErrorRate returns (errors, total) within the window; denials are excluded from total.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errors = countSince(t.times[OutcomeError], cutoff)
	return errors, errors + countSince(t.times[OutcomeSuccess], cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for o := range t.times {
		t.times[o] = nil
	}
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

// pruneLocked drops timestamps older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
