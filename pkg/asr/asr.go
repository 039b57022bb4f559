// Package asr defines the Provider interface for speech-to-text backends.
//
// An ASR provider wraps a transcription service (e.g., the OpenAI Whisper API,
// Deepgram's pre-recorded endpoint, or a local whisper-server instance) behind
// a single batch call: audio bytes in, one Result out. Streaming behaviour is
// built on top of this contract by the session layer, which re-submits its
// rolling buffer at a fixed cadence — providers themselves stay stateless.
//
// Implementations must be safe for concurrent use. Many sessions may call
// Transcribe on the same Provider value simultaneously.
package asr

import (
	"context"
	"time"
)

// Request carries one utterance (or utterance-so-far) to a provider.
type Request struct {
	// Audio is little-endian 16-bit mono PCM at SampleRate Hz. Never empty.
	Audio []byte

	// SampleRate is the audio sample rate in Hz. Zero means 16000.
	SampleRate int

	// LanguageHint is the BCP-47 tag the caller expects the speaker to use
	// (e.g., "de", "fr-FR"). Empty lets the provider auto-detect.
	LanguageHint string
}

// Result is a provider's transcription of one Request. It is immutable;
// callers consume it once and retain it only for logging and telemetry.
type Result struct {
	// Provider is the identifier of the backend that produced this result.
	Provider string

	// Model is the provider-specific model identifier (e.g., "whisper-1").
	Model string

	// Text is the transcribed speech content.
	Text string

	// LanguageHint echoes the hint the provider was asked to use.
	LanguageHint string

	// DetectedLanguage is the language the provider believes was spoken,
	// as a BCP-47 tag. Empty when the provider does not report detection.
	DetectedLanguage string

	// AudioDuration is the length of the submitted audio.
	AudioDuration time.Duration

	// Elapsed is the wall-clock time the provider call took.
	Elapsed time.Duration
}

// Provider is the abstraction over any speech-to-text backend.
//
// Transcribe must respect ctx cancellation and return a descriptive error on
// timeout, rate limiting, or malformed audio; the registry layer treats any
// error as grounds to fall through to the next configured provider.
type Provider interface {
	// Name returns the stable identifier this provider is registered under
	// (e.g., "openai", "deepgram", "whisper"). Used in preference lists,
	// telemetry, and aggregate errors.
	Name() string

	// Transcribe submits one complete audio buffer and blocks until the
	// provider returns a transcription or fails.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// PCMDuration returns the play time of n bytes of 16-bit mono PCM at the
// given sample rate. A non-positive rate is treated as 16000.
func PCMDuration(n int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
