// Package transport adapts the teacher's provider SDK clients
// (internal/providers/*) to the core's narrow Transport contract: one
// call in, one normalized response or *core.ProviderError out. The core never
// sees a provider-specific error type or a streaming channel — a single
// adapter per provider kind absorbs that.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/lattice-run/llmgate/internal/core"
	"github.com/lattice-run/llmgate/internal/providers"
)

// Transport invokes a single provider for a single request, with no
// retries and no failover — the pipeline owns those decisions, not this
// layer. Implementations must respect ctx cancellation/deadline.
type Transport interface {
	Call(ctx context.Context, descriptor core.ProviderDescriptor, req core.Request) (core.Response, error)
}

// ProviderAdapter wraps a teacher-style providers.Provider client and
// exposes it as a Transport. One adapter instance serves one provider
// descriptor's Kind — the same adapter works for every OpenAI-compatible
// provider, for instance, since providers.Provider itself is already kind-
// agnostic at the interface level.
type ProviderAdapter struct {
	client providers.Provider
}

// NewProviderAdapter wraps an existing provider client.
func NewProviderAdapter(client providers.Provider) *ProviderAdapter {
	return &ProviderAdapter{client: client}
}

// Call translates a core.Request into the teacher's ProxyRequest shape,
// invokes the underlying client, and translates the result back. Any
// error from the client is classified into a *core.ProviderError so the
// pipeline and stats tracker have a uniform failure shape regardless of
// which SDK produced it.
func (a *ProviderAdapter) Call(ctx context.Context, descriptor core.ProviderDescriptor, req core.Request) (core.Response, error) {
	proxyReq := &providers.ProxyRequest{
		Model:    req.Model,
		Messages: []providers.Message{{Role: "user", Content: req.Prompt}},
	}
	if req.Temperature != nil {
		proxyReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		proxyReq.MaxTokens = *req.MaxTokens
	}

	resp, err := a.client.Request(ctx, proxyReq)
	if err != nil {
		return core.Response{}, classify(descriptor.ID, err, ctx)
	}

	return core.Response{
		Provider: descriptor.ID,
		Content:  resp.Content,
		Usage: core.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

// classify maps an underlying provider client error into a
// *core.ProviderError with one of four core.Cause values. Unrecognized errors are
// treated as network errors — the conservative choice, since a provider
// that fails in a way the adapter can't name is, from the pipeline's
// point of view, exactly as unavailable as one with a dropped connection.
func classify(providerID string, err error, ctx context.Context) error {
	if ctx.Err() != nil {
		return &core.ProviderError{ProviderID: providerID, Cause: core.CauseTimeout, Err: ctx.Err()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.ProviderError{ProviderID: providerID, Cause: core.CauseTimeout, Err: err}
	}

	if sc, ok := err.(providers.StatusCoder); ok {
		status := sc.HTTPStatus()
		return &core.ProviderError{ProviderID: providerID, Cause: core.CauseProviderHTTPError, Status: status, Err: err}
	}

	var malformed *malformedResponseError
	if errors.As(err, &malformed) {
		return &core.ProviderError{ProviderID: providerID, Cause: core.CauseMalformedResponse, Err: err}
	}

	return &core.ProviderError{ProviderID: providerID, Cause: core.CauseNetworkError, Err: err}
}

// malformedResponseError marks a provider reply that succeeded at the
// transport level but whose body could not be decoded into a response.
// Nothing in this module constructs it, so classify never returns
// CauseMalformedResponse for errors from the current provider clients.
type malformedResponseError struct {
	providerID string
	err        error
}

func (e *malformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.providerID, e.err)
}

func (e *malformedResponseError) Unwrap() error { return e.err }
