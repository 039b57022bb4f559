// Package app wires all Fablespeak subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithProviders,
// WithTelemetrySink, WithScenarioStore). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/fablespeak/fablespeak/internal/config"
	"github.com/fablespeak/fablespeak/internal/gateway"
	"github.com/fablespeak/fablespeak/internal/health"
	"github.com/fablespeak/fablespeak/internal/judge"
	"github.com/fablespeak/fablespeak/internal/judge/llmeval"
	"github.com/fablespeak/fablespeak/internal/oneshot"
	"github.com/fablespeak/fablespeak/internal/registry"
	"github.com/fablespeak/fablespeak/internal/scenario"
	"github.com/fablespeak/fablespeak/internal/session"
	"github.com/fablespeak/fablespeak/internal/telemetry"
	"github.com/fablespeak/fablespeak/internal/telemetry/postgres"
	"github.com/fablespeak/fablespeak/pkg/asr"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	gateway *gateway.Gateway
	server  *http.Server

	logLevel *slog.LevelVar
	guard    *telemetry.Guard

	// injected test doubles, nil outside tests
	providers []asr.Provider
	sink      telemetry.Sink
	scenarios *scenario.Store

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProviders injects transcription providers instead of building them
// from the config.
func WithProviders(providers []asr.Provider) Option {
	return func(a *App) { a.providers = providers }
}

// WithTelemetrySink injects an attempt sink instead of connecting one from
// the config.
func WithTelemetrySink(sink telemetry.Sink) Option {
	return func(a *App) { a.sink = sink }
}

// WithScenarioStore injects a scenario store instead of loading the
// configured file.
func WithScenarioStore(store *scenario.Store) Option {
	return func(a *App) { a.scenarios = store }
}

// WithLogLevelVar hands the app the level var backing the process logger so
// config reloads can retune verbosity.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together: scenario store,
// telemetry sink, provider registry, judgment engine, and the HTTP gateway.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initScenarios(); err != nil {
		return nil, fmt.Errorf("app: init scenarios: %w", err)
	}
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	reg, err := a.initRegistry()
	if err != nil {
		return nil, fmt.Errorf("app: init registry: %w", err)
	}

	eng, err := a.initJudge()
	if err != nil {
		return nil, fmt.Errorf("app: init judge: %w", err)
	}

	sessions := session.Config{
		Registry:  reg,
		Judge:     eng,
		Scenarios: a.scenarios,
		Caps: session.Caps{
			ChunkBytes:      cfg.Limits.ChunkBytes,
			BufferBytes:     cfg.Limits.BufferBytes,
			SessionBytes:    cfg.Limits.SessionBytes,
			PartialMinBytes: cfg.Limits.PartialMinBytes,
			IdleTimeout:     time.Duration(cfg.Limits.IdleTimeout),
		},
		SampleRate:   cfg.Limits.SampleRate,
		DefaultLives: cfg.Limits.DefaultLives,
		DefaultFocus: cfg.Judge.DefaultFocus,
	}

	checkers := []health.Checker{
		health.ScenarioStore(a.scenarios),
		health.Providers(reg),
		health.Telemetry(a.guard),
	}
	if pinger, ok := a.sink.(interface {
		Ping(ctx context.Context) error
	}); ok {
		checkers = append(checkers, health.Pinger("telemetry", pinger))
	}

	a.gateway = gateway.New(gateway.Config{
		Sessions: sessions,
		OneShot:  oneshot.New(reg, eng, a.scenarios),
		Health:   health.New(checkers...),
	})

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) initScenarios() error {
	if a.scenarios != nil {
		return nil
	}
	store, err := scenario.Load(a.cfg.Scenarios.Path)
	if err != nil {
		return err
	}
	a.scenarios = store
	slog.Info("scenarios loaded", "path", a.cfg.Scenarios.Path, "goals", store.Len())
	return nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	if a.sink == nil {
		if dsn := a.cfg.Telemetry.PostgresDSN; dsn != "" {
			sink, err := postgres.New(ctx, dsn)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error {
				sink.Close()
				return nil
			})
			a.sink = sink
			slog.Info("telemetry sink connected", "kind", "postgres")
		} else {
			a.sink = telemetry.LogSink{}
		}
	}
	a.guard = telemetry.NewGuard(a.sink)
	return nil
}

func (a *App) initRegistry() (*registry.Registry, error) {
	providers := a.providers
	if providers == nil {
		built, err := config.DefaultRegistry().CreateAll(a.cfg.Providers)
		if err != nil {
			return nil, err
		}
		providers = built
	}

	opts := []registry.Option{registry.WithTelemetry(a.guard)}
	if prefs := a.cfg.Contexts.Streaming; len(prefs) > 0 {
		opts = append(opts, registry.WithPreferences(registry.ContextStreaming, prefs))
	}
	if prefs := a.cfg.Contexts.SingleShot; len(prefs) > 0 {
		opts = append(opts, registry.WithPreferences(registry.ContextSingleShot, prefs))
	}
	reg, err := registry.New(providers, opts...)
	if err != nil {
		return nil, err
	}
	slog.Info("provider registry ready", "providers", reg.Providers())
	return reg, nil
}

func (a *App) initJudge() (*judge.Engine, error) {
	var opts []judge.Option
	if ev := a.cfg.Judge.Evaluator; ev != nil {
		var llmOpts []anyllmlib.Option
		if ev.APIKey != "" {
			llmOpts = append(llmOpts, anyllmlib.WithAPIKey(ev.APIKey))
		}
		if ev.BaseURL != "" {
			llmOpts = append(llmOpts, anyllmlib.WithBaseURL(ev.BaseURL))
		}
		eval, err := llmeval.New(ev.Provider, ev.Model, llmOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, judge.WithGoalEvaluator(eval))
		slog.Info("llm goal evaluator enabled", "provider", ev.Provider, "model", ev.Model)
	}
	return judge.New(opts...), nil
}

// Gateway exposes the wired gateway for tests.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Run serves HTTP until ctx is cancelled, then returns ctx.Err(). A listener
// failure surfaces immediately.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyConfig applies the hot-reloadable parts of a config change and warns
// about the parts that need a restart. Wire it as the config watcher callback.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.JudgeChanged {
		// The engine is fixed per running server; new judge tuning only
		// affects sessions after a restart.
		slog.Warn("judge settings changed; restart to apply")
	}
	if d.RestartRequired() {
		slog.Warn("config changes require a restart",
			"providers", d.ProvidersChanged,
			"limits", d.LimitsChanged,
			"scenarios", d.ScenariosChanged,
		)
	}
}

// Shutdown stops the HTTP server, closes all live sessions, and tears down
// subsystems in order. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		a.gateway.Store().CloseAll()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
