package router

import (
	"errors"
	"testing"

	"github.com/lattice-run/llmgate/internal/core"
)

func desc(id string, cost uint64, models ...string) core.ProviderDescriptor {
	return core.ProviderDescriptor{ID: id, Models: models, CostPerKMicro: cost, Kind: core.KindOpenAI}
}

func TestSelectNoCapableProvider(t *testing.T) {
	r := New(0)
	r.SetProviders([]core.ProviderDescriptor{desc("a", 100, "gpt-4o")})

	_, err := r.Select(core.Request{Model: "claude-3"})
	var nhp *core.NoHealthyProviderError
	if !errors.As(err, &nhp) {
		t.Fatalf("expected NoHealthyProviderError, got %v", err)
	}
}

func TestSelectPicksLowerScore(t *testing.T) {
	r := New(0)
	r.SetProviders([]core.ProviderDescriptor{
		desc("cheap", 1, "gpt-4o"),
		desc("expensive", 1000, "gpt-4o"),
	})

	// Give both providers an equal latency so cost breaks the tie.
	for _, e := range r.Entries() {
		e.Stats.RecordSuccess(1000)
	}

	entry, err := r.Select(core.Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Descriptor.ID != "cheap" {
		t.Fatalf("expected cheap provider to win on cost, got %s", entry.Descriptor.ID)
	}
}

func TestSelectFallsBackWhenAllUnhealthy(t *testing.T) {
	r := New(2) // threshold 2: two consecutive errors makes a provider unhealthy
	r.SetProviders([]core.ProviderDescriptor{desc("only", 5, "gpt-4o")})

	entries := r.Entries()
	entries[0].Stats.RecordError()
	entries[0].Stats.RecordError()

	entry, err := r.Select(core.Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("expected fallback to the unhealthy-but-capable provider, got error: %v", err)
	}
	if entry.Descriptor.ID != "only" {
		t.Fatalf("expected fallback to return the only capable provider, got %s", entry.Descriptor.ID)
	}
}

func TestSelectSkipsUnhealthyWhenHealthyAlternativeExists(t *testing.T) {
	r := New(2)
	r.SetProviders([]core.ProviderDescriptor{
		desc("sick", 1, "gpt-4o"),
		desc("well", 1, "gpt-4o"),
	})

	for _, e := range r.Entries() {
		if e.Descriptor.ID == "sick" {
			e.Stats.RecordError()
			e.Stats.RecordError()
		}
	}

	entry, err := r.Select(core.Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Descriptor.ID != "well" {
		t.Fatalf("expected the healthy provider to be selected, got %s", entry.Descriptor.ID)
	}
}

func TestSelectTiebreaksByLowerRequestsThenID(t *testing.T) {
	r := New(0)
	r.SetProviders([]core.ProviderDescriptor{
		desc("bbb", 1, "gpt-4o"),
		desc("aaa", 1, "gpt-4o"),
	})

	for _, e := range r.Entries() {
		e.Stats.RecordSuccess(1000) // identical score, identical request count
	}

	entry, err := r.Select(core.Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Descriptor.ID != "aaa" {
		t.Fatalf("expected lexicographically first ID to win tie, got %s", entry.Descriptor.ID)
	}
}

func TestSetProvidersSwapIsAtomic(t *testing.T) {
	r := New(0)
	r.SetProviders([]core.ProviderDescriptor{desc("a", 1, "gpt-4o")})
	before := r.Entries()

	r.SetProviders([]core.ProviderDescriptor{desc("b", 1, "gpt-4o")})
	after := r.Entries()

	if len(before) != 1 || before[0].Descriptor.ID != "a" {
		t.Fatal("expected the snapshot captured before the swap to remain unchanged")
	}
	if len(after) != 1 || after[0].Descriptor.ID != "b" {
		t.Fatal("expected the new snapshot to reflect the swap")
	}
}
