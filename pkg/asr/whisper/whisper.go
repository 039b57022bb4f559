// Package whisper provides an asr.Provider backed by a local whisper.cpp
// server (the whisper-server binary, which exposes a REST API at
// POST /inference).
//
// whisper.cpp is a batch transcription engine, which matches the asr.Provider
// contract directly: each Transcribe call wraps the submitted PCM in a WAV
// container and posts it as a single inference request.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithModel("small"),
//	)
//	res, err := p.Transcribe(ctx, asr.Request{Audio: pcm, LanguageHint: "de"})
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/fablespeak/fablespeak/pkg/asr"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second
)

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "small"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements asr.Provider backed by a local whisper.cpp HTTP server.
// It holds no per-call state and is safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements asr.Provider.
func (p *Provider) Name() string { return "whisper" }

// Transcribe implements asr.Provider. It wraps req.Audio in a RIFF/WAV
// container and POSTs it to /inference as multipart/form-data.
func (p *Provider) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	if len(req.Audio) == 0 {
		return asr.Result{}, errors.New("whisper: empty audio")
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}

	start := time.Now()
	wav := encodeWAV(req.Audio, sr, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	// "auto" keeps whisper.cpp's language detection on; forwarding the hint
	// would pin the decoder and echo the hint back as the detected
	// language, masking wrong-language speech.
	if err := mw.WriteField("language", "auto"); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: write language field: %w", err)
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return asr.Result{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return asr.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var parsed struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return asr.Result{
		Provider:         p.Name(),
		Model:            p.model,
		Text:             strings.TrimSpace(parsed.Text),
		LanguageHint:     req.LanguageHint,
		DetectedLanguage: parsed.Language,
		AudioDuration:    asr.PCMDuration(len(req.Audio), sr),
		Elapsed:          time.Since(start),
	}, nil
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
