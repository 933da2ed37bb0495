// Package cbview is an ambient, operator-facing circuit breaker view.
//
// The core's routing decision (internal/breaker) is a pure, stateless
// predicate: a provider is healthy iff its consecutive-error count is
// below a threshold. That's deliberately all the core needs. This package
// is a separate, richer Closed/Open/HalfOpen state machine with a
// recovery timer, layered on top purely for /health reporting — so an
// operator looking at the dashboard sees the same kind of breaker-state
// transitions they'd expect from any gateway, without the core's scoring
// and fallback logic having to carry that extra state.
package cbview

import (
	"sync"
	"time"
)

// State is the operational state of a per-provider view.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config holds tuning parameters. Zero values fall back to the defaults.
type Config struct {
	// ErrorThreshold is the number of failures within TimeWindow that trips
	// the breaker open.
	ErrorThreshold int
	// TimeWindow is the rolling window for counting errors.
	TimeWindow time.Duration
	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single recovery probe.
	HalfOpenTimeout time.Duration
}

const (
	defaultErrorThreshold  = 5
	defaultTimeWindow      = 60 * time.Second
	defaultHalfOpenTimeout = 30 * time.Second
)

func (c Config) errorThreshold() int {
	if c.ErrorThreshold > 0 {
		return c.ErrorThreshold
	}
	return defaultErrorThreshold
}

func (c Config) timeWindow() time.Duration {
	if c.TimeWindow > 0 {
		return c.TimeWindow
	}
	return defaultTimeWindow
}

func (c Config) halfOpenTimeout() time.Duration {
	if c.HalfOpenTimeout > 0 {
		return c.HalfOpenTimeout
	}
	return defaultHalfOpenTimeout
}

type providerView struct {
	mu sync.Mutex

	state         State
	errorCount    int
	windowStart   time.Time
	openedAt      time.Time
	probeInflight bool
}

// Breaker tracks an independent view per provider ID. New provider IDs are
// created lazily on first use, since the set of configured providers can
// grow across a router reconfiguration.
type Breaker struct {
	mu   sync.RWMutex
	views map[string]*providerView
	cfg  Config
}

// New creates a Breaker with the given config.
func New(cfg Config) *Breaker {
	return &Breaker{views: make(map[string]*providerView), cfg: cfg}
}

func (b *Breaker) getOrCreate(provider string) *providerView {
	b.mu.RLock()
	v, ok := b.views[provider]
	b.mu.RUnlock()
	if ok {
		return v
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.views[provider]; ok {
		return v
	}
	v = &providerView{state: Closed, windowStart: time.Now()}
	b.views[provider] = v
	return v
}

// RecordSuccess resets provider's view to Closed.
func (b *Breaker) RecordSuccess(provider string) {
	v := b.getOrCreate(provider)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = Closed
	v.errorCount = 0
	v.probeInflight = false
	v.windowStart = time.Now()
}

// RecordFailure increments provider's error counter, tripping the breaker
// open once it reaches the configured threshold within the window.
func (b *Breaker) RecordFailure(provider string) {
	v := b.getOrCreate(provider)
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	if now.Sub(v.windowStart) > b.cfg.timeWindow() {
		v.errorCount = 0
		v.windowStart = now
	}
	v.errorCount++
	v.probeInflight = false

	if v.errorCount >= b.cfg.errorThreshold() {
		v.state = Open
		v.openedAt = now
	}
}

// Allow reports whether provider should receive the next request under
// this view's state machine — Closed always allows, Open rejects until
// the half-open timeout elapses, HalfOpen allows exactly one probe.
func (b *Breaker) Allow(provider string) bool {
	v := b.getOrCreate(provider)
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case Open:
		if time.Since(v.openedAt) >= b.cfg.halfOpenTimeout() {
			v.state = HalfOpen
			v.probeInflight = true
			return true
		}
		return false
	case HalfOpen:
		if v.probeInflight {
			return false
		}
		v.probeInflight = true
		return true
	default:
		return true
	}
}

// StateLabel returns the human-readable state name for provider.
func (b *Breaker) StateLabel(provider string) string {
	v := b.getOrCreate(provider)
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.String()
}

// StateCode returns the numeric state for provider (0=closed, 1=open,
// 2=half-open), for exporting as a metrics gauge.
func (b *Breaker) StateCode(provider string) int64 {
	v := b.getOrCreate(provider)
	v.mu.Lock()
	defer v.mu.Unlock()
	return int64(v.state)
}
