package transport

import "github.com/lattice-run/llmgate/internal/providers"

// Registry resolves a provider ID to the Transport that should serve it.
// It is built once at startup from the configured provider clients and
// never mutated afterward — reconfiguration replaces the whole Registry,
// matching the router's RCU-swap discipline.
type Registry struct {
	byID map[string]Transport
}

// NewRegistry wraps a map of already-constructed provider clients (as
// produced by internal/app's buildProviders) into a Registry of
// Transports, one ProviderAdapter per client.
func NewRegistry(clients map[string]providers.Provider) *Registry {
	byID := make(map[string]Transport, len(clients))
	for id, c := range clients {
		byID[id] = NewProviderAdapter(c)
	}
	return &Registry{byID: byID}
}

// Lookup returns the Transport for a provider ID, or nil if unconfigured.
func (r *Registry) Lookup(providerID string) Transport {
	return r.byID[providerID]
}
