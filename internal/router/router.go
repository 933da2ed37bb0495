// Package router selects the provider that should serve a request. It
// scores every model-capable, healthy provider by a blend of recent
// latency and configured cost, and picks the cheapest-fastest one — all
// in a single pass over the current provider snapshot.
package router

import (
	"github.com/lattice-run/llmgate/internal/breaker"
	"github.com/lattice-run/llmgate/internal/core"
	"github.com/lattice-run/llmgate/internal/stats"
)

// costWeight converts cost-per-1k-tokens (integer micro-units) into the
// same scale as EWMA latency expressed in milliseconds, so a provider one
// micro-unit dearer and a provider 100ms slower trade off roughly evenly. This is
// the W from the scoring formula; see DESIGN.md for the unit derivation.
const costWeight = 100

// Score exposes the same scoring function Select uses internally, so
// callers (the pipeline's observability fields) don't hardcode W a
// second time.
func Score(e *Entry) uint64 {
	s, _ := score(e)
	return s
}

// Entry pairs a provider's static configuration with its live stats. The
// router only ever reads Stats — RecordSuccess/RecordError are called by
// the pipeline after a transport call completes.
type Entry struct {
	Descriptor core.ProviderDescriptor
	Stats      *stats.Entry
}

// Router holds an atomically-swappable snapshot of provider entries. Reads
// (Select) never block writers (SetProviders) and vice versa — a reader
// that started before a swap finishes scoring against the old snapshot.
type Router struct {
	snapshot atomicSnapshot
	threshold uint64
}

// New creates a Router with no providers configured yet. Call SetProviders
// before the first Select. threshold is the consecutive-error count at or
// above which a provider is treated as unhealthy; pass 0 to use
// breaker.DefaultThreshold.
func New(threshold uint64) *Router {
	if threshold == 0 {
		threshold = breaker.DefaultThreshold
	}
	r := &Router{threshold: threshold}
	r.snapshot.store(nil)
	return r
}

// SetProviders atomically replaces the full provider list. This is an
// RCU-style swap: existing Select calls in flight keep using the snapshot
// they already loaded. Per-provider stats are freshly allocated — this
// resets health and latency history for every provider, including ones
// that were also present in the previous list (merging live stats across
// a reconfiguration is not implemented).
func (r *Router) SetProviders(descriptors []core.ProviderDescriptor) {
	entries := make([]*Entry, len(descriptors))
	for i, d := range descriptors {
		entries[i] = &Entry{Descriptor: d, Stats: &stats.Entry{}}
	}
	r.snapshot.store(entries)
}

// Entries returns the current provider snapshot. Callers must not mutate
// the returned slice or its elements' Descriptor.
func (r *Router) Entries() []*Entry {
	return r.snapshot.load()
}

// Select picks the best provider for req.Model. It filters to
// model-capable providers, then to healthy ones — falling back to the
// model-capable set unfiltered by health if every capable provider is
// currently unhealthy, so a request is never rejected while a supporting
// provider merely looks sick. Returns core.NoHealthyProviderError if no
// provider supports the model at all.
func (r *Router) Select(req core.Request) (*Entry, error) {
	all := r.snapshot.load()

	capable := make([]*Entry, 0, len(all))
	for _, e := range all {
		if e.Descriptor.SupportsModel(req.Model) {
			capable = append(capable, e)
		}
	}
	if len(capable) == 0 {
		return nil, &core.NoHealthyProviderError{Model: req.Model}
	}

	candidates := make([]*Entry, 0, len(capable))
	for _, e := range capable {
		snap := e.Stats.Snapshot()
		if breaker.Healthy(snap.ConsecutiveErrs, r.threshold) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		// Every capable provider is unhealthy — degrade to ignoring health
		// rather than fail the request outright.
		candidates = capable
	}

	best := candidates[0]
	bestScore, bestSnap := score(best)
	for _, e := range candidates[1:] {
		s, snap := score(e)
		if s < bestScore || (s == bestScore && lessTiebreak(e, snap, best, bestSnap)) {
			best, bestScore, bestSnap = e, s, snap
		}
	}
	return best, nil
}

// score computes ewma_us/1000 (-> ms) + cost_per_1k_micro * W, all in
// integer arithmetic to keep scoring deterministic and allocation-free.
func score(e *Entry) (uint64, stats.Snapshot) {
	snap := e.Stats.Snapshot()
	return snap.EWMALatencyMicros/1000 + e.Descriptor.CostPerKMicro*costWeight, snap
}

// lessTiebreak breaks a score tie by lower request count, then
// lexicographically by provider ID, matching the deterministic ordering
// spec.md requires so identical scores don't produce arbitrary flapping.
func lessTiebreak(a *Entry, aSnap stats.Snapshot, b *Entry, bSnap stats.Snapshot) bool {
	if aSnap.Requests != bSnap.Requests {
		return aSnap.Requests < bSnap.Requests
	}
	return a.Descriptor.ID < b.Descriptor.ID
}
