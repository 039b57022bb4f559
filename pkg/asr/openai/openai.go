// Package openai provides an asr.Provider backed by the OpenAI audio
// transcription API (Whisper).
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/fablespeak/fablespeak/pkg/asr"
)

const (
	defaultSampleRate = 16000
	defaultTimeout    = 60 * time.Second
)

// Compile-time interface assertion.
var _ asr.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements asr.Provider using the OpenAI audio API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a new OpenAI ASR Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{model: string(oai.AudioModelWhisper1), timeout: defaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: cfg.model}, nil
}

// Name implements asr.Provider.
func (p *Provider) Name() string { return "openai" }

// Transcribe implements asr.Provider. The PCM is wrapped in a WAV container
// because the audio endpoint does not accept raw sample data.
func (p *Provider) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	if len(req.Audio) == 0 {
		return asr.Result{}, errors.New("openai: empty audio")
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}

	start := time.Now()
	wav := encodeWAV(req.Audio, sr)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if req.LanguageHint != "" {
		params.Language = oai.String(baseLanguage(req.LanguageHint))
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return asr.Result{}, fmt.Errorf("openai: transcription request: %w", err)
	}

	return asr.Result{
		Provider:     p.Name(),
		Model:        p.model,
		Text:         strings.TrimSpace(resp.Text),
		LanguageHint: req.LanguageHint,
		// The transcription endpoint does not report a detected language in
		// the default response format; the judge treats empty as "no signal".
		AudioDuration: asr.PCMDuration(len(req.Audio), sr),
		Elapsed:       time.Since(start),
	}, nil
}

// baseLanguage reduces a BCP-47 tag to the ISO-639-1 subtag the audio API
// expects ("de-DE" → "de").
func baseLanguage(tag string) string {
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}

// encodeWAV wraps raw 16-bit signed little-endian mono PCM in a RIFF/WAV
// container.
func encodeWAV(pcm []byte, sampleRate int) []byte {
	const bps = 16
	byteRate := sampleRate * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(bps/8))
	binary.LittleEndian.PutUint16(buf[34:36], bps)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}
