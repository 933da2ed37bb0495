// Package pipeline orchestrates one request through the core: fingerprint,
// cache lookup, provider selection, a single transport call, stats update,
// cache write, reply. It is the direct analogue of
// original_source's handle_chat_completions, generalized to Go and to a
// pluggable Transport per provider.
package pipeline

import (
	"context"
	"time"

	"github.com/lattice-run/llmgate/internal/cache"
	"github.com/lattice-run/llmgate/internal/core"
	"github.com/lattice-run/llmgate/internal/router"
	"github.com/lattice-run/llmgate/internal/transport"
)

// DefaultCallTimeout bounds a single provider call. It is not a retry
// budget — the pipeline makes exactly one attempt per request.
const DefaultCallTimeout = 5 * time.Second

// TransportResolver returns the Transport that should serve a provider ID.
// Satisfied by *transport.Registry; declared as an interface here so the
// pipeline package doesn't need to know how the registry is built.
type TransportResolver interface {
	Lookup(providerID string) transport.Transport
}

// Result carries a response plus the observability fields SPEC_FULL's
// ambient logger records alongside it. Overhead is total time spent in the
// pipeline minus time spent waiting on the provider — router selection,
// cache bookkeeping, and scheduling delay.
type Result struct {
	Response   core.Response
	CacheHit   bool
	Score      uint64
	TotalUs    uint64
	OverheadUs uint64
}

// Gateway is the assembled core: a cache, a router, and a way to resolve
// providers to transports. All fields are safe for concurrent use, and
// Handle itself holds no locks of its own — every shared structure it
// touches manages its own concurrency.
type Gateway struct {
	Cache       *cache.SemanticCache
	Router      *router.Router
	Transports  TransportResolver
	CallTimeout time.Duration
}

// New assembles a Gateway from its three components. A zero callTimeout
// falls back to DefaultCallTimeout.
func New(c *cache.SemanticCache, r *router.Router, t TransportResolver, callTimeout time.Duration) *Gateway {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Gateway{Cache: c, Router: r, Transports: t, CallTimeout: callTimeout}
}

// Handle runs one request through the full pipeline. On a cache hit it
// returns immediately without touching the router or any transport. On a
// miss it selects a provider, makes exactly one call bounded by
// CallTimeout, records the outcome in that provider's stats, and — only
// on success — writes the response into the cache. A caller-cancelled ctx
// aborts the in-flight call and is recorded as a provider error, exactly
// like any other failed call.
func (g *Gateway) Handle(ctx context.Context, req core.Request) (Result, error) {
	start := time.Now()
	fp := cache.NewFingerprint(req)

	if resp, ok := g.Cache.Get(fp); ok {
		total := time.Since(start)
		return Result{
			Response:   resp,
			CacheHit:   true,
			TotalUs:    uint64(total.Microseconds()),
			OverheadUs: uint64(total.Microseconds()),
		}, nil
	}

	entry, err := g.Router.Select(req)
	if err != nil {
		return Result{}, err
	}

	t := g.Transports.Lookup(entry.Descriptor.ID)
	if t == nil {
		return Result{}, &core.NoHealthyProviderError{Model: req.Model}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.CallTimeout)
	defer cancel()

	callStart := time.Now()
	resp, callErr := t.Call(callCtx, entry.Descriptor, req)
	callDur := time.Since(callStart)

	if callErr != nil {
		entry.Stats.RecordError()
		return Result{}, callErr
	}

	entry.Stats.RecordSuccess(uint64(callDur.Microseconds()))
	g.Cache.Put(fp, resp)

	total := time.Since(start)
	overhead := total - callDur
	if overhead < 0 {
		overhead = 0
	}

	return Result{
		Response:   resp,
		CacheHit:   false,
		Score:      router.Score(entry),
		TotalUs:    uint64(total.Microseconds()),
		OverheadUs: uint64(overhead.Microseconds()),
	}, nil
}
