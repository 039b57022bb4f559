// Package gateway is the protocol edge of the speech interaction engine: a
// WebSocket endpoint for streaming sessions, an HTTP endpoint for
// single-shot attempts, and the operational surface (health probes and
// Prometheus metrics).
//
// The gateway owns the session store: a session is created on a valid init
// message and removed when the connection closes or the session idles out.
// Judgment logic lives entirely in the session and oneshot packages; the
// gateway only translates between transport frames and typed events.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fablespeak/fablespeak/internal/health"
	"github.com/fablespeak/fablespeak/internal/observe"
	"github.com/fablespeak/fablespeak/internal/oneshot"
	"github.com/fablespeak/fablespeak/internal/session"
)

// Config wires the gateway's collaborators.
type Config struct {
	// Sessions is the template configuration for new streaming sessions.
	Sessions session.Config

	// OneShot handles the single-shot attempt endpoint.
	OneShot *oneshot.Handler

	// Health serves the readiness checkers. A nil value installs a
	// checker-less handler.
	Health *health.Handler

	// MaxAttemptBytes caps the single-shot request body. Defaults to the
	// session cumulative cap.
	MaxAttemptBytes int64

	// Metrics defaults to the process-wide registry.
	Metrics *observe.Metrics
}

// Gateway serves the public endpoints.
type Gateway struct {
	sessions   session.Config
	store      *session.Store
	oneShot    *oneshot.Handler
	healthz    *health.Handler
	maxAttempt int64
	metrics    *observe.Metrics
	log        *slog.Logger
}

// New creates a Gateway with an empty session store.
func New(cfg Config) *Gateway {
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MaxAttemptBytes <= 0 {
		cfg.MaxAttemptBytes = int64(cfg.Sessions.Caps.SessionBytes)
		if cfg.MaxAttemptBytes <= 0 {
			cfg.MaxAttemptBytes = int64(session.DefaultCaps().SessionBytes)
		}
	}
	return &Gateway{
		sessions:   cfg.Sessions,
		store:      session.NewStore(),
		oneShot:    cfg.OneShot,
		healthz:    cfg.Health,
		maxAttempt: cfg.MaxAttemptBytes,
		metrics:    cfg.Metrics,
		log:        slog.Default(),
	}
}

// Store exposes the session store for shutdown and tests.
func (g *Gateway) Store() *session.Store { return g.store }

// Handler returns the gateway's HTTP handler with tracing middleware
// applied to the request endpoints.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream", g.handleStream)
	mux.Handle("POST /v1/attempt", observe.Middleware(g.metrics)(http.HandlerFunc(g.handleAttempt)))
	g.healthz.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}
