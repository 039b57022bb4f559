package whisper_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fablespeak/fablespeak/pkg/asr"
	"github.com/fablespeak/fablespeak/pkg/asr/whisper"
)

func TestTranscribe_DetectionIndependentOfHint(t *testing.T) {
	t.Parallel()

	var language string
	var gotWAV []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		language = r.FormValue("language")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer f.Close()
		buf := make([]byte, 4)
		_, _ = f.Read(buf)
		gotWAV = buf

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": " good day ", "language": "en"}`))
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
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

	// The decoder must keep detecting the language itself, or a
	// wrong-language utterance would be transcribed as the hinted language
	// and never flagged.
	if language != "auto" {
		t.Errorf("language field=%q, want auto", language)
	}
	if string(gotWAV) != "RIFF" {
		t.Errorf("upload starts with %q, want a RIFF/WAV header", gotWAV)
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

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := whisper.New(""); err == nil {
		t.Fatal("New with empty server URL returned nil error")
	}
}
