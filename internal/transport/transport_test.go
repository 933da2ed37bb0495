package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/lattice-run/llmgate/internal/core"
	"github.com/lattice-run/llmgate/internal/providers"
)

type fakeClient struct {
	name string
	resp *providers.ProxyResponse
	err  error
}

func (f *fakeClient) Name() string { return f.name }
func (f *fakeClient) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	return f.resp, f.err
}
func (f *fakeClient) HealthCheck(ctx context.Context) error { return nil }

type statusErr struct{ status int }

func (e *statusErr) Error() string   { return "provider error" }
func (e *statusErr) HTTPStatus() int { return e.status }

func TestProviderAdapterCallSuccess(t *testing.T) {
	client := &fakeClient{
		name: "openai",
		resp: &providers.ProxyResponse{
			Content: "hi",
			Usage:   providers.Usage{InputTokens: 3, OutputTokens: 5},
		},
	}
	a := NewProviderAdapter(client)

	resp, err := a.Call(context.Background(), core.ProviderDescriptor{ID: "openai"}, core.Request{Model: "gpt-4o", Prompt: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" || resp.Usage.PromptTokens != 3 || resp.Usage.CompletionTokens != 5 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestProviderAdapterCallClassifiesHTTPError(t *testing.T) {
	client := &fakeClient{name: "openai", err: &statusErr{status: 503}}
	a := NewProviderAdapter(client)

	_, err := a.Call(context.Background(), core.ProviderDescriptor{ID: "openai"}, core.Request{Model: "gpt-4o", Prompt: "hi"})

	var pe *core.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *core.ProviderError, got %v", err)
	}
	if pe.Cause != core.CauseProviderHTTPError || pe.Status != 503 {
		t.Fatalf("unexpected classification: %+v", pe)
	}
}

func TestProviderAdapterCallClassifiesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{name: "openai", err: errors.New("request failed: context canceled")}
	a := NewProviderAdapter(client)

	_, err := a.Call(ctx, core.ProviderDescriptor{ID: "openai"}, core.Request{Model: "gpt-4o", Prompt: "hi"})

	var pe *core.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *core.ProviderError, got %v", err)
	}
	if pe.Cause != core.CauseTimeout {
		t.Fatalf("expected cancellation to classify as timeout, got %v", pe.Cause)
	}
}

func TestProviderAdapterCallClassifiesUnknownAsNetworkError(t *testing.T) {
	client := &fakeClient{name: "openai", err: errors.New("connection reset")}
	a := NewProviderAdapter(client)

	_, err := a.Call(context.Background(), core.ProviderDescriptor{ID: "openai"}, core.Request{Model: "gpt-4o", Prompt: "hi"})

	var pe *core.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *core.ProviderError, got %v", err)
	}
	if pe.Cause != core.CauseNetworkError {
		t.Fatalf("expected unrecognized error to classify as network error, got %v", pe.Cause)
	}
}
