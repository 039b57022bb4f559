package app_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fablespeak/fablespeak/internal/app"
	"github.com/fablespeak/fablespeak/internal/config"
	"github.com/fablespeak/fablespeak/internal/scenario"
	"github.com/fablespeak/fablespeak/pkg/asr"
	"github.com/fablespeak/fablespeak/pkg/asr/mock"
)

const storyYAML = `
scenarios:
  - id: 4
    prompt: "Greet the innkeeper"
    expected: ["guten Tag"]
    target_language: de-DE
    reward_points: 10
    penalties:
      incorrect_answer:
        lives: 1
    next_id: 5
  - id: 5
    prompt: "Order a meal"
    expected: ["ich hätte gern eine Suppe"]
    target_language: de-DE
    reward_points: 5
`

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Contexts: config.ContextsConfig{
			Streaming:  []string{"auto"},
			SingleShot: []string{"auto"},
		},
		Limits:    config.LimitsConfig{DefaultLives: 3},
		Scenarios: config.ScenariosConfig{Path: "unused.yaml"},
	}
}

func newApp(t *testing.T, provider asr.Provider) *app.App {
	t.Helper()
	store, err := scenario.LoadFromReader(strings.NewReader(storyYAML))
	if err != nil {
		t.Fatalf("scenarios: %v", err)
	}
	a, err := app.New(context.Background(), testConfig(),
		app.WithProviders([]asr.Provider{provider}),
		app.WithScenarioStore(store),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNew_WiresEndToEnd(t *testing.T) {
	p := mock.New("scripted")
	p.QueueResult(asr.Result{Text: "guten Tag", DetectedLanguage: "de-DE"})
	a := newApp(t, p)

	srv := httptest.NewServer(a.Gateway().Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/attempt?scenario_id=4&language=de-DE", "application/octet-stream",
		strings.NewReader(strings.Repeat("\x00", 16000)))
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("attempt status = %d", resp.StatusCode)
	}

	var body struct {
		Result         string `json:"result"`
		ScoreDelta     int    `json:"score_delta"`
		NextScenarioID int    `json:"next_scenario_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Result != "advance" {
		t.Errorf("result = %q, want advance", body.Result)
	}
	if body.ScoreDelta != 10 || body.NextScenarioID != 5 {
		t.Errorf("score_delta = %d next = %d, want 10 and 5", body.ScoreDelta, body.NextScenarioID)
	}
}

func TestNew_HealthEndpoints(t *testing.T) {
	a := newApp(t, mock.New("scripted"))

	srv := httptest.NewServer(a.Gateway().Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestNew_LoadsScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	if err := os.WriteFile(path, []byte(storyYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Scenarios.Path = path

	a, err := app.New(context.Background(), cfg,
		app.WithProviders([]asr.Provider{mock.New("scripted")}))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = a.Shutdown(ctx)
}

func TestNew_MissingScenarioFile(t *testing.T) {
	cfg := testConfig()
	cfg.Scenarios.Path = filepath.Join(t.TempDir(), "nope.yaml")

	if _, err := app.New(context.Background(), cfg,
		app.WithProviders([]asr.Provider{mock.New("scripted")})); err == nil {
		t.Fatal("expected error for missing scenario file, got nil")
	}
}

func TestApplyConfig_LogLevel(t *testing.T) {
	lv := new(slog.LevelVar)
	store, err := scenario.LoadFromReader(strings.NewReader(storyYAML))
	if err != nil {
		t.Fatal(err)
	}
	a, err := app.New(context.Background(), testConfig(),
		app.WithProviders([]asr.Provider{mock.New("scripted")}),
		app.WithScenarioStore(store),
		app.WithLogLevelVar(lv),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	}()

	old := testConfig()
	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	a.ApplyConfig(old, next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a := newApp(t, mock.New("scripted"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
