// Package config provides the configuration schema, loader, and provider
// factory registry for the Fablespeak server.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that unmarshals from YAML strings like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LogLevel controls log verbosity for the Fablespeak server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to its log/slog equivalent. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ProviderKind selects a transcription backend implementation.
type ProviderKind string

const (
	// KindWhisper talks to a self-hosted whisper.cpp server over HTTP.
	KindWhisper ProviderKind = "whisper"

	// KindDeepgram uses the Deepgram pre-recorded transcription API.
	KindDeepgram ProviderKind = "deepgram"

	// KindOpenAI uses the OpenAI audio transcription API.
	KindOpenAI ProviderKind = "openai"

	// KindMock is a canned-response backend for local development.
	KindMock ProviderKind = "mock"
)

// IsValid reports whether k is a recognised provider kind.
func (k ProviderKind) IsValid() bool {
	switch k {
	case KindWhisper, KindDeepgram, KindOpenAI, KindMock:
		return true
	}
	return false
}

// Config is the root configuration structure for Fablespeak.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Providers []ProviderConfig `yaml:"providers"`
	Contexts  ContextsConfig   `yaml:"contexts"`
	Limits    LimitsConfig     `yaml:"limits"`
	Judge     JudgeConfig      `yaml:"judge"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Scenarios ScenariosConfig  `yaml:"scenarios"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProviderConfig declares one transcription provider instance. The Name field
// is how context preference lists refer to it; Kind selects the constructor
// in the [Registry].
type ProviderConfig struct {
	// Name is the unique identifier used in contexts preference lists
	// (e.g., "whisper-local"). Must not be "auto".
	Name string `yaml:"name"`

	// Kind selects the backend implementation.
	Kind ProviderKind `yaml:"kind"`

	// APIKey is the authentication key for hosted backends.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint. Required for
	// whisper (the server URL); optional for hosted backends.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend (e.g., "nova-3",
	// "whisper-1").
	Model string `yaml:"model"`

	// Timeout bounds a single transcription request. Zero uses the
	// backend's default.
	Timeout Duration `yaml:"timeout"`

	// Transcript is the canned text returned by mock providers.
	Transcript string `yaml:"transcript"`
}

// ContextsConfig holds the ordered provider preference list per call context.
// Entries name providers declared in [Config.Providers]; the token "auto"
// expands to all providers in declaration order. Preferences are resolved
// once at startup.
type ContextsConfig struct {
	Streaming  []string `yaml:"streaming"`
	SingleShot []string `yaml:"single_shot"`
}

// LimitsConfig bounds per-session audio buffering. Zero values fall back to
// the built-in defaults.
type LimitsConfig struct {
	// ChunkBytes is the largest accepted single audio chunk.
	ChunkBytes int `yaml:"chunk_bytes"`

	// BufferBytes caps the rolling transcription window.
	BufferBytes int `yaml:"buffer_bytes"`

	// SessionBytes caps total audio accepted across one turn.
	SessionBytes int `yaml:"session_bytes"`

	// PartialMinBytes is the amount of fresh audio that triggers a
	// partial transcription pass.
	PartialMinBytes int `yaml:"partial_min_bytes"`

	// IdleTimeout closes sessions that receive no audio for this long.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// SampleRate is the PCM sample rate pushed by clients, in Hz.
	SampleRate int `yaml:"sample_rate"`

	// DefaultLives is the lives total granted to new sessions.
	DefaultLives int `yaml:"default_lives"`
}

// JudgeConfig tunes the answer matching engine.
type JudgeConfig struct {
	// DefaultFocus is the judge strictness applied when a session does
	// not set one, in [0, 1]. Higher is more lenient.
	DefaultFocus float64 `yaml:"default_focus"`

	// Evaluator enables LLM-backed freeform goal evaluation. When nil,
	// the built-in heuristic evaluator is used.
	Evaluator *EvaluatorConfig `yaml:"evaluator"`
}

// EvaluatorConfig selects the LLM backend for freeform goal evaluation.
type EvaluatorConfig struct {
	// Provider is the LLM provider name: openai, anthropic, gemini, or ollama.
	Provider string `yaml:"provider"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`
}

// TelemetryConfig holds settings for the attempt/verdict telemetry sink.
type TelemetryConfig struct {
	// PostgresDSN is the connection string for the PostgreSQL sink.
	// Empty means attempts are logged instead of persisted.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ScenariosConfig locates the scenario script.
type ScenariosConfig struct {
	// Path is the YAML scenario file loaded at startup.
	Path string `yaml:"path"`
}
