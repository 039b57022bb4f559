// Package deepgram provides an asr.Provider backed by the Deepgram
// pre-recorded transcription API (POST /v1/listen).
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fablespeak/fablespeak/pkg/asr"
)

const (
	deepgramEndpoint  = "https://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second
)

// Compile-time interface assertion.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the default API endpoint. Useful for tests against
// an httptest server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements asr.Provider backed by the Deepgram pre-recorded API.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements asr.Provider.
func (p *Provider) Name() string { return "deepgram" }

// deepgramResponse is the JSON structure returned for a pre-recorded request.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements asr.Provider by submitting the raw PCM to the
// pre-recorded listen endpoint.
func (p *Provider) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	if len(req.Audio) == 0 {
		return asr.Result{}, errors.New("deepgram: empty audio")
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}

	reqURL, err := p.buildURL(sr)
	if err != nil {
		return asr.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(req.Audio))
	if err != nil {
		return asr.Result{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "audio/raw")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return asr.Result{}, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return asr.Result{}, errors.New("deepgram: rate limited (HTTP 429)")
	}
	if resp.StatusCode != http.StatusOK {
		return asr.Result{}, fmt.Errorf("deepgram: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("deepgram: read response body: %w", err)
	}

	var parsed deepgramResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return asr.Result{}, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return asr.Result{}, errors.New("deepgram: response contains no alternatives")
	}

	ch := parsed.Results.Channels[0]
	return asr.Result{
		Provider:         p.Name(),
		Model:            p.model,
		Text:             strings.TrimSpace(ch.Alternatives[0].Transcript),
		LanguageHint:     req.LanguageHint,
		DetectedLanguage: ch.DetectedLanguage,
		AudioDuration:    asr.PCMDuration(len(req.Audio), sr),
		Elapsed:          time.Since(start),
	}, nil
}

// buildURL constructs the pre-recorded endpoint URL.
func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("punctuate", "true")
	// detect_language is mutually exclusive with a pinned language, and a
	// pinned language is echoed back as the detected one, masking
	// wrong-language speech. The hint is recorded on the result but never
	// forwarded.
	q.Set("detect_language", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
