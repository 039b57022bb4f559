package registry

import (
	"log/slog"
	"sync"
	"time"
)

// breakerState is the operating mode of a [breaker].
type breakerState int

const (
	// breakerClosed is the normal state, calls flow through.
	breakerClosed breakerState = iota

	// breakerOpen rejects calls until the cooldown elapses.
	breakerOpen

	// breakerHalfOpen lets a limited number of probes through after the
	// cooldown; one failure re-opens, enough successes close.
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the per-provider circuit breaker the registry keeps
// for each backend.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int

	// Cooldown is how long an open breaker rejects before allowing probes.
	// Default: 30s.
	Cooldown time.Duration

	// ProbeMax is the probe budget in the half-open state. Default: 3.
	ProbeMax int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.ProbeMax <= 0 {
		c.ProbeMax = 3
	}
	return c
}

// breaker is a three-state circuit breaker with a split allow/record API:
// the registry asks Allow before a provider call and reports the outcome
// afterwards, so a skipped provider can still be named in the failure
// report. Safe for concurrent use.
type breaker struct {
	name string
	cfg  BreakerConfig

	mu           sync.Mutex
	state        breakerState
	failures     int
	lastFailure  time.Time
	probeCalls   int
	probeResults int
}

func newBreaker(name string, cfg BreakerConfig) *breaker {
	return &breaker{name: name, cfg: cfg.withDefaults()}
}

// Allow reports whether a call may proceed, transitioning open → half-open
// when the cooldown has elapsed and counting probe budget in half-open.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if time.Since(b.lastFailure) < b.cfg.Cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.probeCalls = 0
		b.probeResults = 0
		slog.Info("provider breaker half-open", "provider", b.name)
		fallthrough

	case breakerHalfOpen:
		if b.probeCalls >= b.cfg.ProbeMax {
			return false
		}
		b.probeCalls++
	}
	return true
}

// RecordSuccess reports a successful provider call.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.probeResults++
		if b.probeResults >= b.cfg.ProbeMax {
			b.state = breakerClosed
			b.failures = 0
			slog.Info("provider breaker closed", "provider", b.name)
		}
		return
	}
	b.failures = 0
}

// RecordFailure reports a failed provider call.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	if b.state == breakerHalfOpen {
		// A single failed probe re-opens.
		b.state = breakerOpen
		b.failures = b.cfg.MaxFailures
		slog.Warn("provider breaker re-opened", "provider", b.name)
		return
	}

	b.failures++
	if b.state == breakerClosed && b.failures >= b.cfg.MaxFailures {
		b.state = breakerOpen
		slog.Warn("provider breaker opened",
			"provider", b.name,
			"consecutive_failures", b.failures)
	}
}

// State returns the current state, reporting half-open when an open
// breaker's cooldown has elapsed.
func (b *breaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen && time.Since(b.lastFailure) >= b.cfg.Cooldown {
		return breakerHalfOpen
	}
	return b.state
}
