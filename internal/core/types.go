// Package core defines the data types shared by every component of the
// request-decision pipeline: the semantic cache, the stats tracker, the
// router, and the gateway pipeline itself. None of these types carry any
// behaviour of their own — they are immutable records passed between
// components.
package core

// Request is a normalized, immutable completion request. Parameters that do
// not influence routing or caching (temperature, max tokens) are copied
// through to the provider but never inspected by the core.
type Request struct {
	Model       string
	Prompt      string
	Temperature *float64
	MaxTokens   *int
}

// Usage holds token counters. A transport that cannot parse usage from the
// provider response leaves both fields zero.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is a normalized, immutable completion response.
type Response struct {
	Provider string
	Content  string
	Usage    Usage
}

// ProviderKind selects the request-formatting strategy a transport adapter
// uses for a given descriptor. It is opaque to the core — only the
// transport layer interprets it.
type ProviderKind string

const (
	KindOpenAI        ProviderKind = "openai"
	KindAnthropic     ProviderKind = "anthropic"
	KindGemini        ProviderKind = "gemini"
	KindMistral       ProviderKind = "mistral"
	KindOpenAICompat  ProviderKind = "openai_compat"
	KindAzure         ProviderKind = "azure"
	KindBedrock       ProviderKind = "bedrock"
	KindVertexAI      ProviderKind = "vertexai"
)

// ProviderDescriptor is immutable provider configuration. CostPerKMicro is
// the cost per 1000 tokens expressed in integer micro-units so that router
// scoring stays in integer arithmetic (see internal/router).
type ProviderDescriptor struct {
	ID            string
	Endpoint      string
	Models        []string
	CostPerKMicro uint64
	Kind          ProviderKind
}

// SupportsModel reports whether the descriptor serves the given logical
// model name.
func (d ProviderDescriptor) SupportsModel(model string) bool {
	for _, m := range d.Models {
		if m == model {
			return true
		}
	}
	return false
}
