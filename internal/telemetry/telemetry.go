// Package telemetry records per-attempt transcription usage for an external
// sink. Every provider call made by the registry produces one Attempt —
// success or failure — so operators can audit provider spend and latency.
//
// Sinks must never affect the speech pipeline: the [Guard] wrapper swallows
// and logs sink errors rather than propagating them into a live turn.
package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Attempt describes one timed provider call, successful or not.
type Attempt struct {
	// Context is the usage context the registry was invoked under
	// ("streaming" or "single_shot").
	Context string

	// Provider is the backend identifier that was tried.
	Provider string

	// Model is the provider-specific model identifier, when known.
	Model string

	// Success reports whether the call produced a transcription.
	Success bool

	// Reason holds the failure description for unsuccessful attempts.
	Reason string

	// AudioBytes is the size of the submitted audio buffer.
	AudioBytes int

	// AudioDuration is the play time of the submitted audio.
	AudioDuration time.Duration

	// Elapsed is the wall-clock duration of the provider call.
	Elapsed time.Duration

	// At is when the attempt started.
	At time.Time
}

// Sink receives attempt records. Implementations must be safe for concurrent
// use.
type Sink interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// LogSink writes attempts to the default slog logger. It is the sink used
// when no external store is configured.
type LogSink struct{}

// RecordAttempt implements Sink.
func (LogSink) RecordAttempt(_ context.Context, a Attempt) error {
	slog.Debug("transcription attempt",
		"context", a.Context,
		"provider", a.Provider,
		"model", a.Model,
		"success", a.Success,
		"reason", a.Reason,
		"audio_bytes", a.AudioBytes,
		"audio_duration", a.AudioDuration,
		"elapsed", a.Elapsed,
	)
	return nil
}

// Guard wraps a Sink and makes recording non-fatal. If the underlying sink
// fails the error is logged and swallowed; IsDegraded reports whether the
// most recent write failed. Safe for concurrent use.
type Guard struct {
	sink     Sink
	degraded atomic.Bool
}

// NewGuard creates a Guard wrapping sink.
func NewGuard(sink Sink) *Guard {
	return &Guard{sink: sink}
}

// RecordAttempt implements Sink. It never returns a non-nil error.
func (g *Guard) RecordAttempt(ctx context.Context, a Attempt) error {
	if err := g.sink.RecordAttempt(ctx, a); err != nil {
		g.degraded.Store(true)
		slog.Warn("telemetry sink: RecordAttempt failed, swallowing error",
			"provider", a.Provider,
			"error", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// IsDegraded reports whether the wrapped sink is currently failing.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

// Compile-time interface checks.
var (
	_ Sink = LogSink{}
	_ Sink = (*Guard)(nil)
)
