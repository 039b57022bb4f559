package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fablespeak/fablespeak/internal/health"
)

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := health.New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
}

func TestReadyz_AllPass(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Checker{Name: "a", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "b", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Checks["a"] != "ok" || body.Checks["b"] != "ok" {
		t.Errorf("body=%+v", body)
	}
}

func TestReadyz_OneFails(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Checker{Name: "ok", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "down", Check: func(context.Context) error { return errors.New("no connection") }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
}

type fakeStore struct{ n int }

func (f fakeStore) Len() int { return f.n }

type fakeGuard struct{ degraded bool }

func (f fakeGuard) IsDegraded() bool { return f.degraded }

func TestDomainCheckers(t *testing.T) {
	t.Parallel()

	if err := health.ScenarioStore(fakeStore{n: 2}).Check(context.Background()); err != nil {
		t.Errorf("loaded store not ready: %v", err)
	}
	if err := health.ScenarioStore(fakeStore{}).Check(context.Background()); err == nil {
		t.Error("empty store reported ready")
	}

	if err := health.Telemetry(fakeGuard{}).Check(context.Background()); err != nil {
		t.Errorf("healthy guard not ready: %v", err)
	}
	if err := health.Telemetry(fakeGuard{degraded: true}).Check(context.Background()); err == nil {
		t.Error("degraded guard reported ready")
	}
}
