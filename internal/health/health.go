// Package health provides HTTP liveness and readiness handlers plus the
// domain checkers the gateway registers: scenario store, provider registry,
// and telemetry sink.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Safe for concurrent use; the checker
// list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a Handler that evaluates the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe; a process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every registered checker passes. Checkers run
// concurrently so one slow dependency does not delay the rest.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Check(ctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ScenarioStore reports ready when the store holds at least one goal.
func ScenarioStore(store interface{ Len() int }) Checker {
	return Checker{
		Name: "scenarios",
		Check: func(context.Context) error {
			if store.Len() == 0 {
				return errors.New("no scenarios loaded")
			}
			return nil
		},
	}
}

// Providers reports ready when the registry has at least one provider
// registered.
func Providers(reg interface{ Providers() []string }) Checker {
	return Checker{
		Name: "providers",
		Check: func(context.Context) error {
			if n := len(reg.Providers()); n == 0 {
				return errors.New("no transcription providers configured")
			}
			return nil
		},
	}
}

// Telemetry reports the guarded sink's state. A degraded sink fails
// readiness without ever affecting live turns.
func Telemetry(guard interface{ IsDegraded() bool }) Checker {
	return Checker{
		Name: "telemetry",
		Check: func(context.Context) error {
			if guard.IsDegraded() {
				return errors.New("telemetry sink is failing writes")
			}
			return nil
		},
	}
}

// Pinger is a checker over anything with a Ping, such as the Postgres
// telemetry pool.
func Pinger(name string, p interface {
	Ping(ctx context.Context) error
}) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}
