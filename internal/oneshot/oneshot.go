// Package oneshot implements the single-shot interaction path: one complete
// utterance in, one judged result out. It shares the judge engine and the
// provider registry with the streaming session so both entry points produce
// identical verdicts for the same transcript, goal, and judge focus; only
// the ingestion cadence differs.
package oneshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fablespeak/fablespeak/internal/judge"
	"github.com/fablespeak/fablespeak/internal/observe"
	"github.com/fablespeak/fablespeak/internal/registry"
	"github.com/fablespeak/fablespeak/internal/scenario"
	"github.com/fablespeak/fablespeak/pkg/asr"
)

// ErrInvalidRequest marks request validation failures so the gateway can
// map them to a client error.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one complete utterance plus its judging parameters.
type Request struct {
	Audio      []byte
	SampleRate int

	// ScenarioID selects the goal to judge against. Zero with an empty
	// ExpectedPhrase means the store's first goal.
	ScenarioID int

	// ExpectedPhrase, when set, judges against an ad hoc goal instead of a
	// stored scenario.
	ExpectedPhrase string

	// Language optionally overrides the goal's target language.
	Language string

	// Focus is the judge focus, 0 when absent.
	Focus float64

	// LivesRemaining bounds the penalty this attempt can incur. Callers
	// tracking no lives pass a high value and ignore LivesDelta.
	LivesRemaining int
}

// Response mirrors the final event of a streaming turn.
type Response struct {
	Heard            string  `json:"heard"`
	DetectedLanguage string  `json:"detected_language,omitempty"`
	MatchType        string  `json:"match_type"`
	Confidence       float64 `json:"confidence"`
	Result           string  `json:"result"`
	ScoreDelta       int     `json:"score_delta"`
	LivesDelta       int     `json:"lives_delta"`
	NextScenarioID   int     `json:"next_scenario_id,omitempty"`
	Message          string  `json:"message,omitempty"`

	// RepeatPrompt carries the beat's prompt when the verdict asks the
	// learner to hear it again.
	RepeatPrompt string `json:"repeat_prompt,omitempty"`
}

// Handler runs single-shot attempts. Safe for concurrent use.
type Handler struct {
	reg     *registry.Registry
	eng     *judge.Engine
	store   *scenario.Store
	metrics *observe.Metrics
}

// New creates a Handler over the shared registry, judge, and scenario store.
func New(reg *registry.Registry, eng *judge.Engine, store *scenario.Store) *Handler {
	return &Handler{
		reg:     reg,
		eng:     eng,
		store:   store,
		metrics: observe.DefaultMetrics(),
	}
}

// Handle transcribes the utterance under the single-shot provider context
// and judges it once. Transcription failures return the registry's aggregate
// error; judgment outcomes (including no_match) are normal responses.
func (h *Handler) Handle(ctx context.Context, req Request) (Response, error) {
	if len(req.Audio) == 0 {
		return Response{}, fmt.Errorf("oneshot: %w: empty audio", ErrInvalidRequest)
	}
	if req.Focus < 0 || req.Focus > 1 {
		return Response{}, fmt.Errorf("oneshot: %w: judge focus %v out of range", ErrInvalidRequest, req.Focus)
	}

	goal, err := h.resolveGoal(req)
	if err != nil {
		return Response{}, err
	}
	if req.Language != "" {
		goal.TargetLanguage = req.Language
	}

	res, err := h.reg.Transcribe(ctx, registry.ContextSingleShot, asr.Request{
		Audio:        req.Audio,
		SampleRate:   req.SampleRate,
		LanguageHint: goal.TargetLanguage,
	})
	if err != nil {
		return Response{}, fmt.Errorf("oneshot: transcribe: %w", err)
	}

	start := time.Now()
	v := h.eng.Judge(ctx, judge.Input{
		Transcript:       res.Text,
		Goal:             goal,
		Focus:            req.Focus,
		DetectedLanguage: res.DetectedLanguage,
		Committed:        goal.Mode != scenario.ModePaused,
		LivesRemaining:   req.LivesRemaining,
	})
	h.metrics.RecordVerdict(ctx, string(v.Match), string(v.Tag), time.Since(start).Seconds())

	out := Response{
		Heard:            res.Text,
		DetectedLanguage: res.DetectedLanguage,
		MatchType:        string(v.Match),
		Confidence:       v.Confidence,
		Result:           string(v.Tag),
		ScoreDelta:       v.ScoreDelta,
		LivesDelta:       v.LivesDelta,
	}
	if v.Tag == judge.TagAdvance && goal.HasNext() {
		out.NextScenarioID = goal.NextID
	}
	switch v.Tag {
	case judge.TagRepeat:
		out.RepeatPrompt = goal.Prompt
		out.Message = "couldn't make that out, listen to the prompt again"
	case judge.TagStall:
		out.Message = "no attempts remaining"
	case judge.TagRetry:
		out.Message = "not quite, try again"
	}
	return out, nil
}

// resolveGoal picks the stored scenario or builds an ad hoc goal from the
// expected phrase.
func (h *Handler) resolveGoal(req Request) (scenario.Goal, error) {
	if req.ExpectedPhrase != "" {
		return scenario.Goal{
			Expected:       []string{req.ExpectedPhrase},
			TargetLanguage: req.Language,
			RewardPoints:   1,
			Mode:           scenario.ModePaused,
		}, nil
	}
	if req.ScenarioID == 0 {
		return h.store.First(), nil
	}
	goal, ok := h.store.Get(req.ScenarioID)
	if !ok {
		return scenario.Goal{}, fmt.Errorf("oneshot: %w: unknown scenario %d", ErrInvalidRequest, req.ScenarioID)
	}
	return goal, nil
}
