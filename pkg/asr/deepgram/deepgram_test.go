package deepgram_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/fablespeak/fablespeak/pkg/asr"
	"github.com/fablespeak/fablespeak/pkg/asr/deepgram"
)

const wrongLanguageResponse = `{
	"results": {
		"channels": [{
			"detected_language": "en",
			"alternatives": [{"transcript": " good day ", "confidence": 0.97}]
		}]
	}
}`

func TestTranscribe_DetectionIndependentOfHint(t *testing.T) {
	t.Parallel()

	var query url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(wrongLanguageResponse))
	}))
	defer srv.Close()

	p, err := deepgram.New("key", deepgram.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), asr.Request{
		Audio:        make([]byte, 3200),
		SampleRate:   16000,
		LanguageHint: "de-DE",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	// The hint must not pin the backend's language, or a wrong-language
	// utterance could never produce a disagreeing detection.
	if got := query.Get("detect_language"); got != "true" {
		t.Errorf("detect_language=%q, want true", got)
	}
	if got := query.Get("language"); got != "" {
		t.Errorf("language=%q forwarded, want unset", got)
	}

	if res.DetectedLanguage != "en" {
		t.Errorf("DetectedLanguage=%q, want en", res.DetectedLanguage)
	}
	if res.LanguageHint != "de-DE" {
		t.Errorf("LanguageHint=%q, want de-DE", res.LanguageHint)
	}
	if res.Text != "good day" {
		t.Errorf("Text=%q, want trimmed transcript", res.Text)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := deepgram.New("key", deepgram.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), asr.Request{Audio: []byte{0, 0}}); err == nil {
		t.Fatal("Transcribe on HTTP 500 returned nil error")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := deepgram.New(""); err == nil {
		t.Fatal("New with empty key returned nil error")
	}
}
