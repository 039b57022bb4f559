// Package judge implements the Match/Judgment Engine: it scores a transcript
// against a beat's expected phrases or narrative goal and produces a Verdict
// carrying the score and lives deltas the session applies.
//
// The continuous judge focus parameter (0..1) interpolates between two
// postures: at 0 the engine is learning-first — strict thresholds, language
// fidelity dominates; at 1 it is story-first — thresholds loosen and a
// freeform response that merely advances the narrative goal is accepted.
// Raising focus never raises the confidence bar required to advance.
//
// Judging the same transcript, goal, and focus twice yields the same Verdict;
// the engine holds no per-call state.
package judge

import (
	"context"
	"log/slog"

	"github.com/fablespeak/fablespeak/internal/scenario"
)

// MatchType classifies how a transcript related to the goal.
type MatchType string

const (
	MatchExact            MatchType = "exact"
	MatchClose            MatchType = "close"
	MatchLanguageMismatch MatchType = "language_mismatch"
	MatchNone             MatchType = "no_match"
	MatchFreeformAccept   MatchType = "freeform_accept"
)

// Tag is the narrative progression signal attached to a Verdict.
type Tag string

const (
	// TagAdvance moves the story to the goal's next beat.
	TagAdvance Tag = "advance"

	// TagRetry keeps the current beat; the learner may try again.
	TagRetry Tag = "retry"

	// TagRepeat asks the caller to replay the prompt before the next try.
	TagRepeat Tag = "repeat"

	// TagStall halts further attempts — lives are exhausted.
	TagStall Tag = "stall"
)

// Verdict is the outcome of one judgment. Computed fresh per call and never
// mutated.
type Verdict struct {
	Match      MatchType
	Confidence float64

	// ScoreDelta is positive on success paths; negative only through the
	// explicit language-mismatch points penalty.
	ScoreDelta int

	// LivesDelta is zero or negative, already clamped so that applying it
	// cannot take lives below zero.
	LivesDelta int

	Tag Tag

	// MatchedPhrase is the expected phrase the transcript scored best
	// against, empty for freeform and mismatch outcomes.
	MatchedPhrase string

	// Exhausted is set when this verdict leaves (or found) the session at
	// zero lives; the caller must halt further attempts instead of looping.
	Exhausted bool
}

// Input carries everything one judgment needs.
type Input struct {
	Transcript string
	Goal       scenario.Goal

	// Focus is the judge focus in [0, 1]; out-of-range values are clamped.
	Focus float64

	// DetectedLanguage is the provider's language detection, empty when the
	// provider reported none. Only confident detections should be passed.
	DetectedLanguage string

	// Committed marks a high-stakes action. Prep and rehearsal invocations
	// are categorically exempt from lives penalties — routing that
	// distinction is the caller's responsibility.
	Committed bool

	// LivesRemaining is the session's lives before this judgment, used to
	// clamp penalties at zero.
	LivesRemaining int
}

// Thresholds holds the two endpoint threshold sets the focus parameter
// interpolates between. Strict applies at focus 0, Loose at focus 1.
type Thresholds struct {
	ExactStrict float64
	ExactLoose  float64
	CloseStrict float64
	CloseLoose  float64
	FloorStrict float64
	FloorLoose  float64

	// FreeformFocusMin is the minimum focus at which freeform narrative
	// acceptance becomes available at all.
	FreeformFocusMin float64

	// FreeformCoverageStrict/Loose bound the goal-coverage a freeform
	// response must reach, interpolated like the text thresholds.
	FreeformCoverageStrict float64
	FreeformCoverageLoose  float64
}

// DefaultThresholds are the tuned defaults. Exact 0.92→0.80, close
// 0.78→0.60, confidence floor 0.55→0.35, freeform available from focus 0.6
// with required coverage 0.75→0.50.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ExactStrict: 0.92, ExactLoose: 0.80,
		CloseStrict: 0.78, CloseLoose: 0.60,
		FloorStrict: 0.55, FloorLoose: 0.35,
		FreeformFocusMin:       0.6,
		FreeformCoverageStrict: 0.75,
		FreeformCoverageLoose:  0.50,
	}
}

// AutoFinalizeThreshold returns the partial-verdict confidence at which a
// streaming session finalizes without an explicit stop: 0.90 at focus 0
// easing linearly to 0.70 at focus 1.
func AutoFinalizeThreshold(focus float64) float64 {
	return 0.90 - 0.20*clamp01(focus)
}

// GoalAssessment is a freeform evaluator's opinion of a transcript.
type GoalAssessment struct {
	// Advances reports whether the response moves the narrative goal
	// forward regardless of phrasing.
	Advances bool

	// Coverage is how much of the goal the response addressed, in [0, 1].
	Coverage float64
}

// GoalEvaluator decides whether a freeform response advances a narrative
// goal. Implementations must be safe for concurrent use.
type GoalEvaluator interface {
	EvaluateGoal(ctx context.Context, transcript string, goal scenario.Goal) (GoalAssessment, error)
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithThresholds overrides the default threshold sets.
func WithThresholds(th Thresholds) Option {
	return func(e *Engine) {
		e.th = th
	}
}

// WithGoalEvaluator installs a custom freeform evaluator (e.g., LLM-backed).
// The built-in heuristic remains the fallback when the evaluator errors.
func WithGoalEvaluator(ev GoalEvaluator) Option {
	return func(e *Engine) {
		e.eval = ev
	}
}

// Engine is the Match/Judgment Engine. Read-only after construction and safe
// for concurrent use.
type Engine struct {
	th   Thresholds
	eval GoalEvaluator
}

// New returns an Engine with [DefaultThresholds] and the heuristic freeform
// evaluator, adjusted by the supplied options.
func New(opts ...Option) *Engine {
	e := &Engine{
		th:   DefaultThresholds(),
		eval: HeuristicEvaluator{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Judge scores in.Transcript against in.Goal and returns the Verdict.
//
// Order of checks, per the protocol contract:
//
//  1. Language: a confidently mismatched detected language during a
//     committed action overrides text content entirely.
//  2. Text: normalized similarity against each expected phrase, with the
//     exact and close thresholds interpolated by focus.
//  3. Freeform: at sufficient focus, a response that advances the narrative
//     goal is accepted without a literal match.
//  4. Otherwise no_match; lives are debited only for committed actions.
func (e *Engine) Judge(ctx context.Context, in Input) Verdict {
	focus := clamp01(in.Focus)
	goal := in.Goal

	// 1. Language check. Never debits anything on prep invocations.
	if in.Committed && !sameLanguage(in.DetectedLanguage, goal.TargetLanguage) {
		v := Verdict{
			Match:      MatchLanguageMismatch,
			Confidence: 1,
			ScoreDelta: -goal.Penalties.LanguageMismatch.Points,
			Tag:        TagRetry,
		}
		return e.applyLives(v, goal.Penalties.LanguageMismatch.Lives, in.LivesRemaining)
	}

	// 2. Text match against each candidate phrase.
	normalized := Normalize(in.Transcript)
	best, bestPhrase := 0.0, ""
	for _, phrase := range goal.Expected {
		if s := Similarity(normalized, Normalize(phrase)); s > best {
			best, bestPhrase = s, phrase
		}
	}

	exactAt := lerp(e.th.ExactStrict, e.th.ExactLoose, focus)
	closeAt := lerp(e.th.CloseStrict, e.th.CloseLoose, focus)

	switch {
	case best >= exactAt:
		return Verdict{
			Match:         MatchExact,
			Confidence:    best,
			ScoreDelta:    goal.RewardPoints,
			Tag:           TagAdvance,
			MatchedPhrase: bestPhrase,
		}
	case best >= closeAt:
		return Verdict{
			Match:         MatchClose,
			Confidence:    best,
			ScoreDelta:    goal.RewardPoints,
			Tag:           TagAdvance,
			MatchedPhrase: bestPhrase,
		}
	}

	// 3. Freeform narrative acceptance, available only at high focus.
	if focus >= e.th.FreeformFocusMin && (goal.GoalText != "" || goal.Prompt != "") {
		required := lerp(e.th.FreeformCoverageStrict, e.th.FreeformCoverageLoose, focus)
		if assess, ok := e.assessGoal(ctx, in.Transcript, goal); ok {
			if assess.Advances && assess.Coverage >= required {
				return Verdict{
					Match:      MatchFreeformAccept,
					Confidence: assess.Coverage,
					ScoreDelta: goal.RewardPoints,
					Tag:        TagAdvance,
				}
			}
		}
	}

	// 4. No match. Low confidence is a normal outcome, not a fault.
	v := Verdict{
		Match:      MatchNone,
		Confidence: best,
		Tag:        TagRetry,
	}
	floor := lerp(e.th.FloorStrict, e.th.FloorLoose, focus)
	if best < floor/2 {
		// Nothing recognisable at all: ask the caller to replay the prompt.
		v.Tag = TagRepeat
	}
	if in.Committed {
		return e.applyLives(v, goal.Penalties.IncorrectAnswer.Lives, in.LivesRemaining)
	}
	return v
}

// assessGoal consults the configured evaluator, falling back to the built-in
// heuristic when it errors.
func (e *Engine) assessGoal(ctx context.Context, transcript string, goal scenario.Goal) (GoalAssessment, bool) {
	assess, err := e.eval.EvaluateGoal(ctx, transcript, goal)
	if err == nil {
		return assess, true
	}
	slog.Warn("goal evaluator failed, falling back to heuristic", "error", err)
	if _, isHeuristic := e.eval.(HeuristicEvaluator); isHeuristic {
		return GoalAssessment{}, false
	}
	assess, err = HeuristicEvaluator{}.EvaluateGoal(ctx, transcript, goal)
	return assess, err == nil
}

// applyLives clamps a lives penalty so the invariant 0 ≤ livesRemaining holds
// and tags the verdict stall when the session has run out of attempts.
func (e *Engine) applyLives(v Verdict, penalty, remaining int) Verdict {
	if remaining <= 0 {
		// Already exhausted: no further deduction is possible.
		v.LivesDelta = 0
		v.Exhausted = true
		v.Tag = TagStall
		return v
	}
	if penalty > remaining {
		penalty = remaining
	}
	v.LivesDelta = -penalty
	if remaining-penalty <= 0 {
		v.Exhausted = true
		v.Tag = TagStall
	}
	return v
}

func lerp(strict, loose, focus float64) float64 {
	return strict + (loose-strict)*focus
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
