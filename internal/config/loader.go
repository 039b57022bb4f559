package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidEvaluatorProviders lists the LLM backends accepted for
// judge.evaluator.provider.
var ValidEvaluatorProviders = []string{"openai", "anthropic", "gemini", "ollama"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Providers
	if len(cfg.Providers) == 0 {
		slog.Warn("no transcription providers configured; every attempt will fail")
	}
	namesSeen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		switch p.Name {
		case "":
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		case "auto":
			errs = append(errs, fmt.Errorf("%s.name %q is reserved", prefix, p.Name))
		default:
			if prev, ok := namesSeen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
			}
			namesSeen[p.Name] = i
		}
		if !p.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: whisper, deepgram, openai, mock", prefix, p.Kind))
			continue
		}
		switch p.Kind {
		case KindWhisper:
			if p.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s: kind whisper requires base_url", prefix))
			}
		case KindDeepgram, KindOpenAI:
			if p.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s: kind %s requires api_key", prefix, p.Kind))
			}
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
	}

	// Context preference lists. Unknown tokens are tolerated at runtime,
	// but flag them here so typos surface at startup.
	validatePreferences("contexts.streaming", cfg.Contexts.Streaming, namesSeen)
	validatePreferences("contexts.single_shot", cfg.Contexts.SingleShot, namesSeen)

	// Limits
	if cfg.Limits.ChunkBytes < 0 || cfg.Limits.BufferBytes < 0 || cfg.Limits.SessionBytes < 0 || cfg.Limits.PartialMinBytes < 0 {
		errs = append(errs, errors.New("limits byte sizes must not be negative"))
	}
	if cfg.Limits.IdleTimeout < 0 {
		errs = append(errs, errors.New("limits.idle_timeout must not be negative"))
	}
	if cfg.Limits.SampleRate < 0 {
		errs = append(errs, errors.New("limits.sample_rate must not be negative"))
	}
	if cfg.Limits.DefaultLives < 0 {
		errs = append(errs, errors.New("limits.default_lives must not be negative"))
	}

	// Judge
	if cfg.Judge.DefaultFocus < 0 || cfg.Judge.DefaultFocus > 1 {
		errs = append(errs, fmt.Errorf("judge.default_focus %.2f is out of range [0, 1]", cfg.Judge.DefaultFocus))
	}
	if ev := cfg.Judge.Evaluator; ev != nil {
		if !slices.Contains(ValidEvaluatorProviders, ev.Provider) {
			errs = append(errs, fmt.Errorf("judge.evaluator.provider %q is invalid; valid values: %v", ev.Provider, ValidEvaluatorProviders))
		}
		if ev.Model == "" {
			errs = append(errs, errors.New("judge.evaluator.model is required"))
		}
	}

	// Telemetry availability
	if cfg.Telemetry.PostgresDSN == "" {
		slog.Warn("telemetry.postgres_dsn is empty; attempt telemetry will be logged but not persisted")
	}

	// Scenarios
	if cfg.Scenarios.Path == "" {
		errs = append(errs, errors.New("scenarios.path is required"))
	}

	return errors.Join(errs...)
}

// validatePreferences logs a warning for each preference token that is
// neither "auto" nor a declared provider name.
func validatePreferences(field string, prefs []string, known map[string]int) {
	for _, name := range prefs {
		if name == "auto" {
			continue
		}
		if _, ok := known[name]; ok {
			continue
		}
		slog.Warn("preference names an undeclared provider — may be a typo",
			"field", field,
			"name", name,
		)
	}
}
