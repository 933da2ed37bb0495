// Package proxy is the HTTP front end for the gateway core.
//
// It decodes an OpenAI-compatible chat-completions request, hands it to
// internal/pipeline.Gateway for caching, routing, and dispatch, and encodes
// the result back into an OpenAI-compatible envelope. All of the "hard
// engineering" — scoring, health, caching — lives in the core; this layer
// is deliberately thin: parse, delegate, respond.
package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/lattice-run/llmgate/internal/cache"
	"github.com/lattice-run/llmgate/internal/cbview"
	"github.com/lattice-run/llmgate/internal/core"
	"github.com/lattice-run/llmgate/internal/logger"
	"github.com/lattice-run/llmgate/internal/metrics"
	"github.com/lattice-run/llmgate/internal/pipeline"
	"github.com/lattice-run/llmgate/pkg/apierr"
)

const (
	xCacheHIT  = "HIT"
	xCacheMISS = "MISS"
)

// GatewayOptions holds optional tuning parameters for a Gateway. All fields
// have sensible defaults and can be omitted.
type GatewayOptions struct {
	// Logger is the structured logger used for request events.
	// Defaults to slog.Default() when nil.
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. When nil, metrics are disabled.
	Metrics *metrics.Registry

	// CBConfig configures the ambient operator-facing breaker view
	// (internal/cbview). This is separate from the core's routing health
	// predicate — it never affects which provider is selected.
	CBConfig cbview.Config

	// AllowClientAPIKeys is recorded on the Gateway; no handler in this
	// package reads it, and client Authorization headers are not forwarded.
	AllowClientAPIKeys bool
}

// Gateway is the HTTP-facing wrapper around a *pipeline.Gateway. All
// dependencies are injected via the constructor so they can be replaced
// with mock doubles in unit tests.
type Gateway struct {
	core    *pipeline.Gateway
	health  *HealthChecker
	cb      *cbview.Breaker
	baseCtx context.Context
	log     *slog.Logger
	metrics *metrics.Registry

	reqLogger       *logger.Logger
	cacheExclusions *cache.ExclusionList

	// backing is an optional byte-oriented cache (Redis or in-process TTL)
	// consulted only by handleUncached — models excluded from the semantic
	// cache still get exact-match replay when this is configured.
	backing    cache.Cache
	backingTTL time.Duration

	// CORS allowed origins. Empty slice means deny all; ["*"] means allow all.
	corsOrigins []string

	allowClientAPIKeys bool
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// NewGateway creates a Gateway wrapping the given core pipeline.
func NewGateway(ctx context.Context, core *pipeline.Gateway) *Gateway {
	return NewGatewayWithOptions(ctx, core, nil, GatewayOptions{})
}

// NewGatewayWithProbes creates a Gateway with an explicit probe for the cache
// backend; its result is reported as the "cache" field of GET /health.
// GET /readiness does not consult it.
func NewGatewayWithProbes(
	baseCtx context.Context,
	core *pipeline.Gateway,
	cacheReady func() bool,
) *Gateway {
	return NewGatewayWithOptions(baseCtx, core, cacheReady, GatewayOptions{})
}

// NewGatewayWithOptions creates a fully configured Gateway.
func NewGatewayWithOptions(
	baseCtx context.Context,
	corePipeline *pipeline.Gateway,
	cacheReady func() bool,
	opts GatewayOptions,
) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	gw := &Gateway{
		core:               corePipeline,
		baseCtx:            baseCtx,
		log:                log,
		metrics:            opts.Metrics,
		allowClientAPIKeys: opts.AllowClientAPIKeys,
	}

	gw.cb = cbview.New(opts.CBConfig)

	if corePipeline != nil {
		gw.health = NewHealthChecker(baseCtx, corePipeline.Router, cacheReady, gw.metrics, gw.cb)
	}

	return gw
}

// SetLogger injects the async request logger (e.g. for ClickHouse or stdout).
func (g *Gateway) SetLogger(l *logger.Logger) {
	g.reqLogger = l
}

// SetCacheExclusions injects the cache exclusion list.
// Requests whose model name matches any rule skip the semantic cache; they
// still read and write the optional backing cache (see SetBackingCache).
func (g *Gateway) SetCacheExclusions(el *cache.ExclusionList) {
	g.cacheExclusions = el
}

// SetBackingCache injects an exact-match byte cache consulted only for
// requests excluded from the semantic cache (see handleUncached). Pass a
// nil backing cache to disable exact-match replay for excluded models.
func (g *Gateway) SetBackingCache(c cache.Cache, ttl time.Duration) {
	g.backing = c
	g.backingTTL = ttl
}

// ── Internal request / response types ─────────────────────────────────────────

type (
	inboundMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	inboundRequest struct {
		Model       string           `json:"model"`
		Messages    []inboundMessage `json:"messages"`
		Temperature float64          `json:"temperature"`
		MaxTokens   int              `json:"max_tokens"`
	}

	outboundUsage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	outboundMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	outboundChoice struct {
		Index        int             `json:"index"`
		Message      outboundMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	}

	outboundResponse struct {
		ID      string           `json:"id"`
		Object  string           `json:"object"`
		Created int64            `json:"created"`
		Model   string           `json:"model"`
		Choices []outboundChoice `json:"choices"`
		Usage   outboundUsage    `json:"usage"`
	}
)

// dispatchChat is the handler for /v1/chat/completions and /v1/completions.
// It is a thin adapter: parse the inbound envelope, build a core.Request,
// delegate the cache/route/call/record decision entirely to
// pipeline.Gateway.Handle, then encode whatever came back.
func (g *Gateway) dispatchChat(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	path := string(ctx.Path())
	route := "chat_completions"
	if path == "/v1/completions" {
		route = "completions"
	}
	reqBytes := len(ctx.PostBody())
	servedProvider := "unknown"
	cacheLabel := "bypass" // hit|miss|bypass
	inputTokens, outputTokens := 0, 0
	cached := false
	respBytes := -1

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil {
			return
		}
		g.metrics.DecInFlight()
		status := ctx.Response.StatusCode()
		dur := time.Since(start)
		if respBytes < 0 {
			respBytes = len(ctx.Response.Body())
		}
		g.metrics.ObserveHTTP(route, status, dur, reqBytes, respBytes)
		g.metrics.RecordRequest(servedProvider, status, dur.Milliseconds())
		g.metrics.ObserveGatewayRequest(servedProvider, route, cacheLabel, dur)
		g.metrics.AddTokens(servedProvider, route, inputTokens, outputTokens, cached)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var req inboundRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if req.Model == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"field 'model' is required",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	g.log.InfoContext(ctx, "request",
		slog.String("request_id", reqID),
		slog.String("model", req.Model),
	)

	if g.core == nil {
		apierr.Write(ctx, fasthttp.StatusBadGateway,
			"no providers configured",
			apierr.TypeProviderError, apierr.CodeProviderError)
		return
	}

	if g.cacheExclusions != nil && g.cacheExclusions.Matches(req.Model) {
		// Excluded models still go through the core, but their response is
		// never observed by the cache — simplest way to honor the exclusion
		// without teaching the core about per-model policy is to route
		// around the shared cache entirely for this one request.
		g.handleUncached(ctx, req, reqID, route, start, &servedProvider, &cacheLabel, &inputTokens, &outputTokens, &cached, &respBytes)
		return
	}

	coreReq := core.Request{Model: req.Model, Prompt: joinMessages(req.Messages)}
	if req.Temperature != 0 {
		t := req.Temperature
		coreReq.Temperature = &t
	}
	if req.MaxTokens != 0 {
		mt := req.MaxTokens
		coreReq.MaxTokens = &mt
	}

	result, err := g.core.Handle(ctx, coreReq)
	if err != nil {
		g.log.ErrorContext(ctx, "provider_error",
			slog.String("request_id", reqID),
			slog.String("model", req.Model),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		var pe *core.ProviderError
		if errors.As(err, &pe) {
			g.cb.RecordFailure(pe.ProviderID)
			if g.metrics != nil {
				g.metrics.RecordError(pe.ProviderID, pe.Cause.String())
			}
		}
		handleCoreError(ctx, err)
		g.logRequest(reqID, "", req.Model, 0, 0, time.Since(start), ctx.Response.StatusCode(), false, 0, 0)
		return
	}

	g.cb.RecordSuccess(result.Response.Provider)
	if g.metrics != nil {
		if result.CacheHit {
			g.metrics.CacheGetHit()
		} else {
			g.metrics.CacheGetMiss()
			g.metrics.ObserveSelection(result.Response.Provider, result.Score)
			callDur := time.Duration(result.TotalUs-result.OverheadUs) * time.Microsecond
			g.metrics.ObserveUpstreamAttempt(result.Response.Provider, route, "ok", callDur)
		}
	}
	servedProvider = result.Response.Provider
	cached = result.CacheHit
	if result.CacheHit {
		cacheLabel = "hit"
		ctx.Response.Header.Set("X-Cache", xCacheHIT)
	} else {
		cacheLabel = "miss"
		ctx.Response.Header.Set("X-Cache", xCacheMISS)
	}
	inputTokens = result.Response.Usage.PromptTokens
	outputTokens = result.Response.Usage.CompletionTokens

	out := outboundResponse{
		ID:      reqID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []outboundChoice{
			{Index: 0, Message: outboundMessage{Role: "assistant", Content: result.Response.Content}, FinishReason: "stop"},
		},
		Usage: outboundUsage{
			PromptTokens:     result.Response.Usage.PromptTokens,
			CompletionTokens: result.Response.Usage.CompletionTokens,
			TotalTokens:      result.Response.Usage.PromptTokens + result.Response.Usage.CompletionTokens,
		},
	}

	body, err := json.Marshal(out)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"failed to serialize response", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	g.logRequest(reqID, servedProvider, req.Model, inputTokens, outputTokens,
		time.Since(start), fasthttp.StatusOK, cached, result.Score, result.OverheadUs)

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
	respBytes = len(body)
}

// handleUncached serves a request that is excluded from caching by calling
// the router and a resolved transport directly, bypassing pipeline.Gateway
// so that cache-exclusion policy stays entirely in this HTTP layer rather
// than leaking into the core's contract.
func (g *Gateway) handleUncached(
	ctx *fasthttp.RequestCtx, req inboundRequest, reqID, route string, start time.Time,
	servedProvider, cacheLabel *string, inputTokens, outputTokens *int, cached *bool, respBytes *int,
) {
	if g.metrics != nil {
		g.metrics.CacheGetBypass()
	}

	entry, err := g.core.Router.Select(core.Request{Model: req.Model})
	if err != nil {
		handleCoreError(ctx, err)
		return
	}

	prompt := joinMessages(req.Messages)
	backingKey := buildCacheKey(req.Model, prompt, "", "")

	var resp core.Response
	fromBacking := false
	if g.backing != nil {
		if raw, ok := g.backing.Get(ctx, backingKey); ok {
			if jerr := json.Unmarshal(raw, &resp); jerr == nil {
				fromBacking = true
			}
		}
	}

	if !fromBacking {
		t := g.core.Transports.Lookup(entry.Descriptor.ID)
		if t == nil {
			apierr.Write(ctx, fasthttp.StatusBadGateway, "provider unavailable", apierr.TypeProviderError, apierr.CodeProviderError)
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, g.core.CallTimeout)
		defer cancel()

		coreReq := core.Request{Model: req.Model, Prompt: prompt}
		callStart := time.Now()
		resp, err = t.Call(callCtx, entry.Descriptor, coreReq)
		callDur := time.Since(callStart)
		if err != nil {
			entry.Stats.RecordError()
			g.cb.RecordFailure(entry.Descriptor.ID)
			if g.metrics != nil {
				var pe *core.ProviderError
				errType := "unknown"
				if errors.As(err, &pe) {
					errType = pe.Cause.String()
				}
				g.metrics.RecordError(entry.Descriptor.ID, errType)
				g.metrics.ObserveUpstreamAttempt(entry.Descriptor.ID, route, "error", callDur)
			}
			handleCoreError(ctx, err)
			return
		}
		entry.Stats.RecordSuccess(uint64(callDur.Microseconds()))
		g.cb.RecordSuccess(entry.Descriptor.ID)
		if g.metrics != nil {
			g.metrics.ObserveUpstreamAttempt(entry.Descriptor.ID, route, "ok", callDur)
		}

		if g.backing != nil {
			if raw, jerr := json.Marshal(resp); jerr == nil {
				setErr := g.backing.Set(ctx, backingKey, raw, g.backingTTL)
				if g.metrics != nil {
					if setErr != nil {
						g.metrics.CacheSetError()
					} else {
						g.metrics.CacheSetOK()
					}
				}
			}
		}
	}

	*servedProvider = resp.Provider
	*cacheLabel = "bypass"
	*inputTokens = resp.Usage.PromptTokens
	*outputTokens = resp.Usage.CompletionTokens

	out := outboundResponse{
		ID: reqID, Object: "chat.completion", Created: time.Now().Unix(), Model: req.Model,
		Choices: []outboundChoice{{Index: 0, Message: outboundMessage{Role: "assistant", Content: resp.Content}, FinishReason: "stop"}},
		Usage: outboundUsage{
			PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens: resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		},
	}
	body, merr := json.Marshal(out)
	if merr != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to serialize response", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	g.logRequest(reqID, resp.Provider, req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, time.Since(start), fasthttp.StatusOK, false, 0, 0)

	ctx.Response.Header.Set("X-Cache", xCacheMISS)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
	*respBytes = len(body)
}

// joinMessages flattens a chat transcript into the single prompt string
// the core fingerprints and forwards. Multi-turn structure is preserved
// with a simple role-tagged join; the core treats the whole thing as an
// opaque string.
func joinMessages(msgs []inboundMessage) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// logRequest enqueues a RequestLog entry to the async logger. Never blocks.
func (g *Gateway) logRequest(
	requestID, provider, model string,
	inputTokens, outputTokens int,
	latency time.Duration,
	status int,
	isCached bool,
	score uint64,
	overheadUs uint64,
) {
	if g.reqLogger == nil {
		return
	}

	reqUUID, _ := uuid.Parse(requestID)

	latencyMs := uint16(latency.Milliseconds())
	if latency.Milliseconds() > 65535 {
		latencyMs = 65535
	}

	g.reqLogger.Log(logger.RequestLog{
		ID:           reqUUID,
		Provider:     provider,
		Model:        model,
		InputTokens:  uint32(inputTokens),
		OutputTokens: uint32(outputTokens),
		LatencyMs:    latencyMs,
		Status:       uint16(status),
		Cached:       isCached,
		Score:        score,
		OverheadUs:   overheadUs,
		CreatedAt:    time.Now(),
	})
}

// handleCoreError maps an error from the core pipeline to the appropriate
// HTTP response.
func handleCoreError(ctx *fasthttp.RequestCtx, err error) {
	var nhp *core.NoHealthyProviderError
	if errors.As(err, &nhp) {
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable,
			err.Error(), apierr.TypeProviderError, apierr.CodeProviderError)
		return
	}

	var pe *core.ProviderError
	if errors.As(err, &pe) {
		switch pe.Cause {
		case core.CauseTimeout:
			apierr.WriteTimeout(ctx)
		case core.CauseProviderHTTPError:
			apierr.WriteProviderError(ctx, pe.Status, err.Error())
		default:
			apierr.Write(ctx, fasthttp.StatusBadGateway, err.Error(), apierr.TypeProviderError, apierr.CodeProviderError)
		}
		return
	}

	apierr.Write(ctx, fasthttp.StatusBadGateway,
		err.Error(), apierr.TypeProviderError, apierr.CodeProviderError)
}

// buildCacheKey derives the exact-match key used by the optional backing
// cache (see SetBackingCache) for models excluded from the semantic cache.
func buildCacheKey(model string, prompt string, workspaceID, apiKeyID string) string {
	data, _ := json.Marshal(struct {
		W string `json:"w"`
		K string `json:"k"`
		M string `json:"m"`
		P string `json:"p"`
	}{workspaceID, apiKeyID, model, prompt})
	h := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(h[:])
}
