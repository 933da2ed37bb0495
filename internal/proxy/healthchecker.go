package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/lattice-run/llmgate/internal/breaker"
	"github.com/lattice-run/llmgate/internal/cbview"
	"github.com/lattice-run/llmgate/internal/metrics"
	"github.com/lattice-run/llmgate/internal/router"
)

const healthProbeInterval = 30 * time.Second

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthChecker periodically snapshots the router's per-provider stats and
// exposes an aggregate view for GET /health and /readiness. Unlike the
// teacher's version, it does not make active outbound calls to providers —
// health here is entirely derived from the same consecutive-error counters
// the router uses to route around a sick provider. The counters are judged
// against breaker.DefaultThreshold, so /health matches the router's view
// when the router runs with that default threshold.
type HealthChecker struct {
	router     *router.Router
	cacheReady func() bool
	dbReady    func() bool
	baseCtx    context.Context
	metrics    *metrics.Registry
	cb         *cbview.Breaker

	providerStatuses map[string]*componentStatus
	statusesMu       sync.RWMutex
	cacheStatus      componentStatus
	dbStatus         componentStatus

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately runs one probe
// so health is not "unknown" before the first tick.
func NewHealthChecker(
	ctx context.Context,
	r *router.Router,
	cacheReady func() bool,
	met *metrics.Registry,
	cb *cbview.Breaker,
) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		router:           r,
		cacheReady:       cacheReady,
		providerStatuses: make(map[string]*componentStatus),
		startTime:        time.Now(),
		done:             make(chan struct{}),
		baseCtx:          ctx,
		metrics:          met,
		cb:               cb,
	}

	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot returns the current health state for all components.
type HealthSnapshot struct {
	Status         string            `json:"status"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Providers      map[string]string `json:"providers"`
	BreakerStates  map[string]string `json:"breaker_states,omitempty"`
	Cache          string            `json:"cache"`
	Database       string            `json:"database"`
}

// Snapshot builds a snapshot from the latest probe results.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	hc.statusesMu.RLock()
	providers := make(map[string]string, len(hc.providerStatuses))
	for name, s := range hc.providerStatuses {
		st := s.get()
		providers[name] = st
		if st != "ok" {
			overall = "degraded"
		}
	}
	hc.statusesMu.RUnlock()

	cache := hc.cacheStatus.get()
	db := hc.dbStatus.get()

	if db == "down" {
		overall = "degraded"
	}

	var breakerStates map[string]string
	if hc.cb != nil {
		breakerStates = make(map[string]string, len(providers))
		for name := range providers {
			breakerStates[name] = hc.cb.StateLabel(name)
		}
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Providers:     providers,
		BreakerStates: breakerStates,
		Cache:         cache,
		Database:      db,
	}
}

// ReadinessOK returns true when the database is reachable (used by
// GET /readiness for Kubernetes probes). A degraded provider does not fail
// readiness — the router routes around it, it doesn't stop the process.
func (hc *HealthChecker) ReadinessOK() bool {
	return hc.dbStatus.get() == "ok"
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	close(hc.done)
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	if hc.router != nil {
		entries := hc.router.Entries()
		fresh := make(map[string]*componentStatus, len(entries))
		for _, e := range entries {
			snap := e.Stats.Snapshot()
			status := "ok"
			if !breaker.Healthy(snap.ConsecutiveErrs, breaker.DefaultThreshold) {
				status = "degraded"
			}
			fresh[e.Descriptor.ID] = &componentStatus{status: status}
			if hc.metrics != nil {
				hc.metrics.SetProviderHealth(e.Descriptor.ID, status == "ok")
				hc.metrics.SetEWMALatency(e.Descriptor.ID, snap.EWMALatencyMicros)
			}
			if hc.metrics != nil && hc.cb != nil {
				hc.metrics.SetCircuitBreaker(e.Descriptor.ID, hc.cb.StateCode(e.Descriptor.ID))
			}
		}
		hc.statusesMu.Lock()
		hc.providerStatuses = fresh
		hc.statusesMu.Unlock()
	}

	if hc.cacheReady == nil || hc.cacheReady() {
		hc.cacheStatus.set("ok")
	} else {
		hc.cacheStatus.set("degraded")
	}

	if hc.dbReady == nil || hc.dbReady() {
		hc.dbStatus.set("ok")
	} else {
		hc.dbStatus.set("down")
	}
}
