// Package stats implements the lock-free per-provider health and latency
// tracking the router reads on every request. Updates never block: a
// failed compare-and-swap simply retries, bounded, so a burst of
// concurrent writers degrades to "some samples lost" rather than stalling.
package stats

import "sync/atomic"

// maxCASRetries bounds the EWMA update loop. Under heavy contention a
// writer that loses every race just skips updating latency for that
// sample — request/error counters below always land, since they're a
// single Add.
const maxCASRetries = 8

// emaShift implements alpha = 1/8 via integer shift: new = (old*7 + sample) >> 3.
const emaShift = 3

// Entry holds one provider's live counters. Zero value is a fresh,
// healthy, never-called provider. Entry must not be copied after first use.
type Entry struct {
	requests         atomic.Uint64
	errors           atomic.Uint64
	consecutiveErrs  atomic.Uint64
	ewmaLatencyMicros atomic.Uint64
}

// Snapshot is an immutable point-in-time read of an Entry.
type Snapshot struct {
	Requests         uint64
	Errors           uint64
	ConsecutiveErrs  uint64
	EWMALatencyMicros uint64
}

// RecordSuccess folds one successful call's latency into the EWMA, resets
// the consecutive-error counter, and increments the request count.
func (e *Entry) RecordSuccess(latencyMicros uint64) {
	e.requests.Add(1)
	e.consecutiveErrs.Store(0)
	e.updateEWMA(latencyMicros)
}

// RecordError increments the request, error, and consecutive-error
// counters. Latency is not sampled for failed calls.
func (e *Entry) RecordError() {
	e.requests.Add(1)
	e.errors.Add(1)
	e.consecutiveErrs.Add(1)
}

// updateEWMA applies new = (old*7 + sample) / 8 via a bounded CAS retry
// loop. When old is zero (no samples yet) the sample is taken verbatim so
// a single slow first call doesn't get diluted toward zero.
func (e *Entry) updateEWMA(sampleMicros uint64) {
	for i := 0; i < maxCASRetries; i++ {
		old := e.ewmaLatencyMicros.Load()
		var next uint64
		if old == 0 {
			next = sampleMicros
		} else {
			next = (old*7 + sampleMicros) >> emaShift
		}
		if e.ewmaLatencyMicros.CompareAndSwap(old, next) {
			return
		}
	}
}

// Snapshot returns a consistent-enough read of all four counters. Fields
// are read independently and are not mutually atomic, which is acceptable
// for a scoring heuristic that is recomputed on every request anyway.
func (e *Entry) Snapshot() Snapshot {
	return Snapshot{
		Requests:          e.requests.Load(),
		Errors:            e.errors.Load(),
		ConsecutiveErrs:   e.consecutiveErrs.Load(),
		EWMALatencyMicros: e.ewmaLatencyMicros.Load(),
	}
}
