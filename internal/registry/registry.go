// Package registry maintains the set of configured transcription providers
// and runs ordered fallback across them. Callers name a usage context
// ("streaming" or "single_shot"); the registry resolves that context's
// provider preference list, skips providers whose circuit breaker is open,
// and tries the rest in order until one returns a transcript.
//
// Every attempt — success, failure, or breaker skip — is timed and handed to
// the telemetry sink and the metrics registry, and a fully failed chain
// reports every provider it touched through [AllFailedError].
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fablespeak/fablespeak/internal/observe"
	"github.com/fablespeak/fablespeak/internal/telemetry"
	"github.com/fablespeak/fablespeak/pkg/asr"
)

// Context names the invocation path a transcription request arrived on.
// Streaming and single-shot requests may prefer different providers: a
// latency-sensitive streaming turn wants the fastest backend, a single-shot
// attempt can afford the most accurate one.
type Context string

const (
	ContextStreaming  Context = "streaming"
	ContextSingleShot Context = "single_shot"
)

// PreferenceAuto in a preference list expands to every registered provider
// in declaration order.
const PreferenceAuto = "auto"

// FailedAttempt names one provider the fallback chain touched and why it did
// not produce a transcript.
type FailedAttempt struct {
	Provider string
	Reason   string
}

// AllFailedError reports that every provider in a context's chain was tried
// (or skipped by its breaker) without producing a transcript.
type AllFailedError struct {
	Context  Context
	Attempts []FailedAttempt
}

func (e *AllFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "registry: all providers failed for context %q: ", e.Context)
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", a.Provider, a.Reason)
	}
	return b.String()
}

// Option is a functional option for configuring a Registry.
type Option func(*Registry)

// WithPreferences sets the provider preference list for one context. Each
// entry is a provider name or [PreferenceAuto]; unknown names are ignored
// with a warning at resolution time. Contexts without a preference list use
// declaration order.
func WithPreferences(c Context, names []string) Option {
	return func(r *Registry) {
		r.prefs[c] = names
	}
}

// WithBreakerConfig overrides the per-provider circuit breaker tuning.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(r *Registry) {
		r.breakerCfg = cfg
	}
}

// WithTelemetry installs the attempt sink. The registry wraps it in a
// [telemetry.Guard], so sink failures never surface into a turn.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(r *Registry) {
		r.sink = telemetry.NewGuard(sink)
	}
}

// WithMetrics overrides the metrics registry (used by tests).
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry is the transcription provider registry. Read-only after
// construction and safe for concurrent use.
type Registry struct {
	order    []string
	byName   map[string]asr.Provider
	breakers map[string]*breaker

	prefs      map[Context][]string
	breakerCfg BreakerConfig
	sink       telemetry.Sink
	metrics    *observe.Metrics
}

// New creates a Registry over providers in the given declaration order.
// Provider names must be unique and at least one provider is required.
func New(providers []asr.Provider, opts ...Option) (*Registry, error) {
	if len(providers) == 0 {
		return nil, errors.New("registry: at least one provider is required")
	}

	r := &Registry{
		byName:   make(map[string]asr.Provider, len(providers)),
		breakers: make(map[string]*breaker, len(providers)),
		prefs:    make(map[Context][]string),
		sink:     telemetry.NewGuard(telemetry.LogSink{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}

	for _, p := range providers {
		name := p.Name()
		if name == "" || name == PreferenceAuto {
			return nil, fmt.Errorf("registry: invalid provider name %q", name)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("registry: duplicate provider name %q", name)
		}
		r.order = append(r.order, name)
		r.byName[name] = p
		r.breakers[name] = newBreaker(name, r.breakerCfg)
	}
	return r, nil
}

// Providers returns the registered provider names in declaration order.
func (r *Registry) Providers() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve returns the provider order for a context: its preference list with
// "auto" expanded to declaration order, unknown names dropped, and
// duplicates collapsed to their first position. A context with no preference
// list (or one that resolves to nothing) uses declaration order.
func (r *Registry) Resolve(c Context) []string {
	prefs, ok := r.prefs[c]
	if !ok {
		return r.Providers()
	}

	var out []string
	seen := make(map[string]bool, len(r.order))
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, token := range prefs {
		switch {
		case token == PreferenceAuto:
			for _, name := range r.order {
				add(name)
			}
		case r.byName[token] != nil:
			add(token)
		default:
			slog.Warn("ignoring unknown provider in preference list",
				"context", string(c), "provider", token)
		}
	}
	if len(out) == 0 {
		slog.Warn("preference list resolved to no providers, using declaration order",
			"context", string(c))
		return r.Providers()
	}
	return out
}

// Transcribe runs the fallback chain for the given context. It returns the
// first successful result, a context error if the caller's ctx ends
// mid-chain, or an [*AllFailedError] naming every provider that was tried or
// skipped.
func (r *Registry) Transcribe(ctx context.Context, c Context, req asr.Request) (asr.Result, error) {
	var failed []FailedAttempt

	for _, name := range r.Resolve(c) {
		if err := ctx.Err(); err != nil {
			return asr.Result{}, fmt.Errorf("registry: transcribe %q: %w", c, err)
		}

		br := r.breakers[name]
		if !br.Allow() {
			slog.Debug("skipping provider, breaker open", "context", string(c), "provider", name)
			r.metrics.RecordProviderAttempt(ctx, name, string(c), "skipped", 0)
			failed = append(failed, FailedAttempt{Provider: name, Reason: "circuit breaker open"})
			continue
		}

		start := time.Now()
		res, err := r.byName[name].Transcribe(ctx, req)
		elapsed := time.Since(start)

		attempt := telemetry.Attempt{
			Context:       string(c),
			Provider:      name,
			Model:         res.Model,
			Success:       err == nil,
			AudioBytes:    len(req.Audio),
			AudioDuration: asr.PCMDuration(len(req.Audio), req.SampleRate),
			Elapsed:       elapsed,
			At:            start,
		}
		if err != nil {
			attempt.Reason = err.Error()
		}
		// The guard swallows sink errors, recording is best effort.
		_ = r.sink.RecordAttempt(ctx, attempt)

		if err != nil {
			br.RecordFailure()
			r.metrics.RecordProviderAttempt(ctx, name, string(c), "error", elapsed.Seconds())
			slog.Warn("provider failed, trying next",
				"context", string(c), "provider", name, "error", err)
			failed = append(failed, FailedAttempt{Provider: name, Reason: err.Error()})
			continue
		}

		br.RecordSuccess()
		r.metrics.RecordProviderAttempt(ctx, name, string(c), "ok", elapsed.Seconds())
		return res, nil
	}

	return asr.Result{}, &AllFailedError{Context: c, Attempts: failed}
}
