package app

import (
	"context"
	"fmt"
	"log/slog"

	npCache "github.com/lattice-run/llmgate/internal/cache"
	"github.com/lattice-run/llmgate/internal/cbview"
	"github.com/lattice-run/llmgate/internal/core"
	"github.com/lattice-run/llmgate/internal/logger"
	"github.com/lattice-run/llmgate/internal/metrics"
	"github.com/lattice-run/llmgate/internal/pipeline"
	"github.com/lattice-run/llmgate/internal/providers"
	"github.com/lattice-run/llmgate/internal/proxy"
	"github.com/lattice-run/llmgate/internal/router"
	"github.com/lattice-run/llmgate/internal/transport"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initProviders builds the LLM provider map. At least one provider must be
// configured; config.Load's validation already rejects a config with no
// provider key unless ALLOW_CLIENT_API_KEYS is set, and this check covers
// that case too.
func (a *App) initProviders(_ context.Context) error {
	a.provs = buildProviders(a.baseCtx, a.cfg)
	if len(a.provs) == 0 {
		return fmt.Errorf("no provider API keys configured")
	}

	names := make([]string, 0, len(a.provs))
	for n := range a.provs {
		names = append(names, n)
	}
	a.log.Info("providers loaded", slog.Any("providers", names))

	return nil
}

// initServices creates the semantic cache, transport registry, router, and
// Prometheus metrics registry — the pieces internal/pipeline.Gateway is
// assembled from.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		a.log.Info("backing cache: redis (exact-match, for cache-excluded models)")
	case "memory":
		a.memCache = npCache.NewMemoryCache(ctx)
		a.log.Info("backing cache: memory (in-process, for cache-excluded models)")
	case "none":
		a.log.Info("backing cache: disabled")
	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	a.transports = transport.NewRegistry(a.provs)

	a.router = router.New(uint64(a.cfg.Router.ErrorThreshold))
	a.router.SetProviders(buildDescriptors(a.provs))

	semCache := npCache.NewSemanticCache(a.cfg.Cache.Capacity, a.cfg.Cache.TTL)

	callTimeout := a.cfg.Router.CallTimeout
	if callTimeout <= 0 {
		callTimeout = pipeline.DefaultCallTimeout
	}
	a.core = pipeline.New(semCache, a.router, a.transports, callTimeout)

	reqLogger, err := logger.New(ctx, a.log)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger

	if a.cfg.ClickHouse.Addr != "" {
		sink, err := logger.NewClickHouseSink(ctx, logger.ClickHouseConfig(a.cfg.ClickHouse))
		if err != nil {
			a.log.Warn("clickhouse log sink disabled", slog.String("error", err.Error()))
		} else {
			a.reqLogger.SetSink(sink)
			a.logSink = sink
			a.log.Info("clickhouse log sink enabled", slog.String("addr", a.cfg.ClickHouse.Addr))
		}
	}

	return nil
}

// initGateway wires together the HTTP-facing Gateway with all configured
// subsystems.
func (a *App) initGateway(_ context.Context) error {
	var cacheReady func() bool
	switch a.cfg.Cache.Mode {
	case "redis":
		cacheReady = redisPinger(a.baseCtx, a.rdb)
	default:
		cacheReady = func() bool { return true }
	}

	opts := proxy.GatewayOptions{
		Logger:  a.log,
		Metrics: a.prom,
		CBConfig: cbview.Config{
			ErrorThreshold:  a.cfg.CircuitBreaker.ErrorThreshold,
			TimeWindow:      a.cfg.CircuitBreaker.TimeWindow,
			HalfOpenTimeout: a.cfg.CircuitBreaker.HalfOpenTimeout,
		},
		AllowClientAPIKeys: a.cfg.AllowClientAPIKeys,
	}

	gw := proxy.NewGatewayWithOptions(a.baseCtx, a.core, cacheReady, opts)

	// Backing cache — only used by the HTTP layer's cache-exclusion bypass
	// path, never by the core's semantic cache.
	switch a.cfg.Cache.Mode {
	case "redis":
		gw.SetBackingCache(npCache.NewExactCacheFromClient(a.rdb), a.cfg.Cache.TTL)
	case "memory":
		gw.SetBackingCache(a.memCache, a.cfg.Cache.TTL)
	}

	gw.SetCORSOrigins(a.cfg.CORSOrigins)

	if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := npCache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		gw.SetCacheExclusions(el)
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	if a.reqLogger != nil {
		gw.SetLogger(a.reqLogger)
	}

	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	a.gw = gw

	return nil
}

// buildDescriptors turns the provider client map into router-facing
// core.ProviderDescriptor values, deriving each provider's model list from
// providers.ModelAliases (inverted) so the router only ever routes a model
// to a provider that actually claims to support it.
func buildDescriptors(provs map[string]providers.Provider) []core.ProviderDescriptor {
	modelsByProvider := make(map[string][]string)
	for model, provider := range providers.ModelAliases {
		modelsByProvider[provider] = append(modelsByProvider[provider], model)
	}

	descs := make([]core.ProviderDescriptor, 0, len(provs))
	for name := range provs {
		descs = append(descs, core.ProviderDescriptor{
			ID:            name,
			Models:        modelsByProvider[name],
			CostPerKMicro: costTable[name],
			Kind:          kindTable[name],
		})
	}
	return descs
}

// costTable holds a representative cost-per-1k-tokens figure (integer
// micro-units of USD) per provider, used only to seed router scoring —
// operators should override via per-deployment configuration once real
// billing data is available.
var costTable = map[string]uint64{
	"openai":     5000,
	"anthropic":  6000,
	"gemini":     2000,
	"mistral":    2000,
	"xai":        3000,
	"deepseek":   500,
	"groq":       500,
	"together":   1000,
	"perplexity": 3000,
	"cerebras":   500,
	"moonshot":   1000,
	"minimax":    1000,
	"qwen":       800,
	"nebius":     800,
	"novita":     800,
	"bytedance":  800,
	"zai":        800,
	"canopywave": 800,
	"inference":  800,
	"nanogpt":    500,
	"vertexai":   5000,
	"bedrock":    5000,
	"azure":      5000,
}

var kindTable = map[string]core.ProviderKind{
	"openai":     core.KindOpenAI,
	"anthropic":  core.KindAnthropic,
	"gemini":     core.KindGemini,
	"mistral":    core.KindMistral,
	"vertexai":   core.KindVertexAI,
	"bedrock":    core.KindBedrock,
	"azure":      core.KindAzure,
	"xai":        core.KindOpenAICompat,
	"deepseek":   core.KindOpenAICompat,
	"groq":       core.KindOpenAICompat,
	"together":   core.KindOpenAICompat,
	"perplexity": core.KindOpenAICompat,
	"cerebras":   core.KindOpenAICompat,
	"moonshot":   core.KindOpenAICompat,
	"minimax":    core.KindOpenAICompat,
	"qwen":       core.KindOpenAICompat,
	"nebius":     core.KindOpenAICompat,
	"novita":     core.KindOpenAICompat,
	"bytedance":  core.KindOpenAICompat,
	"zai":        core.KindOpenAICompat,
	"canopywave": core.KindOpenAICompat,
	"inference":  core.KindOpenAICompat,
	"nanogpt":    core.KindOpenAICompat,
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
