package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lattice-run/llmgate/internal/cache"
	"github.com/lattice-run/llmgate/internal/core"
	"github.com/lattice-run/llmgate/internal/router"
	"github.com/lattice-run/llmgate/internal/transport"
)

type fakeTransport struct {
	resp  core.Response
	err   error
	delay time.Duration
	calls int
}

func (f *fakeTransport) Call(ctx context.Context, d core.ProviderDescriptor, req core.Request) (core.Response, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return core.Response{}, ctx.Err()
		}
	}
	return f.resp, f.err
}

type fakeResolver struct {
	byID map[string]transport.Transport
}

func (r *fakeResolver) Lookup(providerID string) transport.Transport { return r.byID[providerID] }

func newTestGateway(t *testing.T, providerID string, ft *fakeTransport) (*Gateway, *router.Router) {
	t.Helper()
	r := router.New(0)
	r.SetProviders([]core.ProviderDescriptor{{ID: providerID, Models: []string{"gpt-4o"}}})
	c := cache.NewSemanticCache(cache.DefaultCapacity, cache.DefaultTTL)
	resolver := &fakeResolver{byID: map[string]transport.Transport{providerID: ft}}
	return New(c, r, resolver, time.Second), r
}

func TestHandleCacheMissThenHit(t *testing.T) {
	ft := &fakeTransport{resp: core.Response{Provider: "p1", Content: "hello"}}
	gw, _ := newTestGateway(t, "p1", ft)

	req := core.Request{Model: "gpt-4o", Prompt: "hi"}

	res1, err := gw.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res1.CacheHit {
		t.Fatal("expected first call to be a cache miss")
	}
	if ft.calls != 1 {
		t.Fatalf("expected exactly one transport call, got %d", ft.calls)
	}

	res2, err := gw.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res2.CacheHit {
		t.Fatal("expected second identical call to hit the cache")
	}
	if ft.calls != 1 {
		t.Fatalf("expected cache hit to skip the transport, got %d calls", ft.calls)
	}
	if res2.Response.Content != "hello" {
		t.Fatalf("expected cached content, got %q", res2.Response.Content)
	}
}

func TestHandleNoRetryOnFailure(t *testing.T) {
	ft := &fakeTransport{err: errors.New("boom")}
	gw, r := newTestGateway(t, "p1", ft)

	_, err := gw.Handle(context.Background(), core.Request{Model: "gpt-4o", Prompt: "hi"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if ft.calls != 1 {
		t.Fatalf("expected exactly one attempt (no retries), got %d", ft.calls)
	}

	snap := r.Entries()[0].Stats.Snapshot()
	if snap.ConsecutiveErrs != 1 {
		t.Fatalf("expected the failure to be recorded, got %d consecutive errors", snap.ConsecutiveErrs)
	}
}

func TestHandleDoesNotCacheOnFailure(t *testing.T) {
	ft := &fakeTransport{err: errors.New("boom")}
	gw, _ := newTestGateway(t, "p1", ft)
	req := core.Request{Model: "gpt-4o", Prompt: "hi"}

	gw.Handle(context.Background(), req)

	if _, ok := gw.Cache.Get(cache.NewFingerprint(req)); ok {
		t.Fatal("expected a failed call to not populate the cache")
	}
}

func TestHandleCancellationRecordsError(t *testing.T) {
	ft := &fakeTransport{resp: core.Response{Content: "too slow"}, delay: 50 * time.Millisecond}
	gw, r := newTestGateway(t, "p1", ft)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := gw.Handle(ctx, core.Request{Model: "gpt-4o", Prompt: "hi"})
	if err == nil {
		t.Fatal("expected cancellation to surface as an error")
	}

	snap := r.Entries()[0].Stats.Snapshot()
	if snap.ConsecutiveErrs != 1 {
		t.Fatalf("expected cancellation to be recorded as a failure, got %d consecutive errors", snap.ConsecutiveErrs)
	}
}

func TestHandleNoHealthyProviderForUnknownModel(t *testing.T) {
	ft := &fakeTransport{}
	gw, _ := newTestGateway(t, "p1", ft)

	_, err := gw.Handle(context.Background(), core.Request{Model: "unknown-model", Prompt: "hi"})
	var nhp *core.NoHealthyProviderError
	if !errors.As(err, &nhp) {
		t.Fatalf("expected NoHealthyProviderError, got %v", err)
	}
}
