package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fablespeak/fablespeak/internal/oneshot"
	"github.com/fablespeak/fablespeak/internal/registry"
)

// handleAttempt serves the single-shot path: one utterance uploaded either
// as a multipart form (field "audio") or as a raw body with query
// parameters.
func (g *Gateway) handleAttempt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, g.maxAttempt)

	req, err := g.parseAttempt(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := g.oneShot.Handle(r.Context(), req)
	if err != nil {
		var allFailed *registry.AllFailedError
		switch {
		case errors.As(err, &allFailed):
			writeError(w, http.StatusBadGateway, err)
		case errors.Is(err, oneshot.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// parseAttempt extracts audio and judging parameters from either encoding.
func (g *Gateway) parseAttempt(r *http.Request) (oneshot.Request, error) {
	var (
		req    oneshot.Request
		params map[string]string
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(g.maxAttempt); err != nil {
			return req, fmt.Errorf("parsing multipart form: %w", err)
		}
		file, _, err := r.FormFile("audio")
		if err != nil {
			return req, fmt.Errorf("missing audio file field: %w", err)
		}
		defer file.Close()
		req.Audio, err = io.ReadAll(file)
		if err != nil {
			return req, fmt.Errorf("reading audio: %w", err)
		}

		params = map[string]string{}
		for key := range r.MultipartForm.Value {
			params[key] = r.FormValue(key)
		}
	} else {
		audio, err := io.ReadAll(r.Body)
		if err != nil {
			return req, fmt.Errorf("reading body: %w", err)
		}
		req.Audio = audio

		params = map[string]string{}
		for key, vals := range r.URL.Query() {
			if len(vals) > 0 {
				params[key] = vals[0]
			}
		}
	}

	req.ExpectedPhrase = params["expected"]
	req.Language = params["language"]
	req.SampleRate = 16000
	req.LivesRemaining = 3

	var err error
	if v, ok := params["scenario_id"]; ok && v != "" {
		if req.ScenarioID, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("invalid scenario_id %q", v)
		}
	}
	if v, ok := params["judge"]; ok && v != "" {
		if req.Focus, err = strconv.ParseFloat(v, 64); err != nil {
			return req, fmt.Errorf("invalid judge %q", v)
		}
	}
	if v, ok := params["lives_remaining"]; ok && v != "" {
		if req.LivesRemaining, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("invalid lives_remaining %q", v)
		}
	}
	if v, ok := params["sample_rate"]; ok && v != "" {
		if req.SampleRate, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("invalid sample_rate %q", v)
		}
	}
	return req, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
