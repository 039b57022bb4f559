package judge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fablespeak/fablespeak/internal/judge"
	"github.com/fablespeak/fablespeak/internal/scenario"
)

func greetingGoal() scenario.Goal {
	return scenario.Goal{
		ID:             1,
		Prompt:         "Greet the innkeeper politely",
		Expected:       []string{"guten Tag", "hallo, wie geht es Ihnen"},
		GoalText:       "The traveler greets the innkeeper and asks for a room for the night",
		TargetLanguage: "de-DE",
		RewardPoints:   10,
		Penalties: scenario.Penalties{
			LanguageMismatch: scenario.LanguageMismatchPenalty{Lives: 1, Points: 5},
			IncorrectAnswer:  scenario.IncorrectAnswerPenalty{Lives: 1},
		},
	}
}

func judgeInput(transcript string, focus float64) judge.Input {
	return judge.Input{
		Transcript:     transcript,
		Goal:           greetingGoal(),
		Focus:          focus,
		Committed:      true,
		LivesRemaining: 3,
	}
}

// --- Text matching ---

func TestJudge_ExactMatch(t *testing.T) {
	t.Parallel()

	e := judge.New()
	v := e.Judge(context.Background(), judgeInput("Guten Tag!", 0))

	if v.Match != judge.MatchExact {
		t.Fatalf("Match=%q, want %q (confidence %.3f)", v.Match, judge.MatchExact, v.Confidence)
	}
	if v.Tag != judge.TagAdvance {
		t.Errorf("Tag=%q, want %q", v.Tag, judge.TagAdvance)
	}
	if v.ScoreDelta != 10 {
		t.Errorf("ScoreDelta=%d, want 10", v.ScoreDelta)
	}
	if v.LivesDelta != 0 {
		t.Errorf("LivesDelta=%d, want 0 on success", v.LivesDelta)
	}
	if v.MatchedPhrase != "guten Tag" {
		t.Errorf("MatchedPhrase=%q, want %q", v.MatchedPhrase, "guten Tag")
	}
}

func TestJudge_CloseMatchOnRecognizerDrift(t *testing.T) {
	t.Parallel()

	e := judge.New()
	// Recognizer output with typical drift: casing, punctuation, one slurred word.
	v := e.Judge(context.Background(), judgeInput("hallo wie geht es inen", 0))

	if v.Match != judge.MatchExact && v.Match != judge.MatchClose {
		t.Fatalf("Match=%q, want exact or close (confidence %.3f)", v.Match, v.Confidence)
	}
	if v.Tag != judge.TagAdvance {
		t.Errorf("Tag=%q, want %q", v.Tag, judge.TagAdvance)
	}
}

func TestJudge_NoMatchUncommittedKeepsLives(t *testing.T) {
	t.Parallel()

	e := judge.New()
	in := judgeInput("ich möchte ein Bier bestellen bitte sofort", 0)
	in.Committed = false
	v := e.Judge(context.Background(), in)

	if v.Match != judge.MatchNone {
		t.Fatalf("Match=%q, want %q", v.Match, judge.MatchNone)
	}
	if v.LivesDelta != 0 {
		t.Errorf("LivesDelta=%d, want 0 for uncommitted attempt", v.LivesDelta)
	}
	if v.ScoreDelta != 0 {
		t.Errorf("ScoreDelta=%d, want 0", v.ScoreDelta)
	}
}

func TestJudge_NoMatchCommittedDebitsOneLife(t *testing.T) {
	t.Parallel()

	e := judge.New()
	v := e.Judge(context.Background(), judgeInput("ich möchte ein Bier bestellen bitte sofort", 0))

	if v.Match != judge.MatchNone {
		t.Fatalf("Match=%q, want %q", v.Match, judge.MatchNone)
	}
	if v.LivesDelta != -1 {
		t.Errorf("LivesDelta=%d, want -1", v.LivesDelta)
	}
	if v.Exhausted {
		t.Error("Exhausted=true with 3 lives remaining")
	}
}

func TestJudge_GibberishAsksForRepeat(t *testing.T) {
	t.Parallel()

	e := judge.New()
	in := judgeInput("xqzzyv brrkl", 0)
	in.Committed = false
	v := e.Judge(context.Background(), in)

	if v.Match != judge.MatchNone {
		t.Fatalf("Match=%q, want %q", v.Match, judge.MatchNone)
	}
	if v.Tag != judge.TagRepeat {
		t.Errorf("Tag=%q, want %q for unrecognisable input", v.Tag, judge.TagRepeat)
	}
}

// --- Focus behaviour ---

// A transcript that clears the bar at some focus must still clear it at any
// higher focus: loosening never revokes an accept.
func TestJudge_RaisingFocusNeverRevokesAdvance(t *testing.T) {
	t.Parallel()

	e := judge.New()
	transcripts := []string{
		"guten Tag",
		"guten tag herr wirt",
		"hallo wie geht es inen",
	}
	for _, tr := range transcripts {
		advancedAt := -1.0
		for _, focus := range []float64{0, 0.25, 0.5, 0.75, 1} {
			v := e.Judge(context.Background(), judgeInput(tr, focus))
			advanced := v.Tag == judge.TagAdvance
			if advancedAt >= 0 && !advanced {
				t.Errorf("transcript %q advanced at focus %.2f but not at %.2f", tr, advancedAt, focus)
			}
			if advanced && advancedAt < 0 {
				advancedAt = focus
			}
		}
	}
}

func TestJudge_FocusOutOfRangeClamped(t *testing.T) {
	t.Parallel()

	e := judge.New()
	low := e.Judge(context.Background(), judgeInput("guten Tag", -5))
	high := e.Judge(context.Background(), judgeInput("guten Tag", 42))

	want := e.Judge(context.Background(), judgeInput("guten Tag", 0))
	if low.Match != want.Match {
		t.Errorf("focus=-5: Match=%q, want %q (clamped to 0)", low.Match, want.Match)
	}
	want = e.Judge(context.Background(), judgeInput("guten Tag", 1))
	if high.Match != want.Match {
		t.Errorf("focus=42: Match=%q, want %q (clamped to 1)", high.Match, want.Match)
	}
}

func TestJudge_Deterministic(t *testing.T) {
	t.Parallel()

	e := judge.New()
	in := judgeInput("hallo wie geht es inen", 0.4)
	first := e.Judge(context.Background(), in)
	for range 5 {
		if got := e.Judge(context.Background(), in); got != first {
			t.Fatalf("Judge not deterministic: %+v vs %+v", got, first)
		}
	}
}

// --- Freeform acceptance ---

func TestJudge_FreeformAcceptedOnlyAtHighFocus(t *testing.T) {
	t.Parallel()

	e := judge.New()
	// Paraphrases the goal ("traveler greets innkeeper, asks for a room")
	// without matching either scripted phrase.
	paraphrase := "der traveler greets den innkeeper und asks for ein room"

	strict := e.Judge(context.Background(), judgeInput(paraphrase, 0))
	if strict.Tag == judge.TagAdvance {
		t.Fatalf("focus=0 accepted freeform paraphrase: %+v", strict)
	}

	loose := e.Judge(context.Background(), judgeInput(paraphrase, 1))
	if loose.Match != judge.MatchFreeformAccept {
		t.Fatalf("focus=1: Match=%q, want %q (confidence %.3f)", loose.Match, judge.MatchFreeformAccept, loose.Confidence)
	}
	if loose.Tag != judge.TagAdvance {
		t.Errorf("Tag=%q, want %q", loose.Tag, judge.TagAdvance)
	}
	if loose.ScoreDelta != 10 {
		t.Errorf("ScoreDelta=%d, want 10", loose.ScoreDelta)
	}
	if loose.MatchedPhrase != "" {
		t.Errorf("MatchedPhrase=%q, want empty for freeform accept", loose.MatchedPhrase)
	}
}

type stubEvaluator struct {
	assess judge.GoalAssessment
	err    error
}

func (s stubEvaluator) EvaluateGoal(context.Context, string, scenario.Goal) (judge.GoalAssessment, error) {
	return s.assess, s.err
}

func TestJudge_CustomEvaluatorAccepts(t *testing.T) {
	t.Parallel()

	e := judge.New(judge.WithGoalEvaluator(stubEvaluator{
		assess: judge.GoalAssessment{Advances: true, Coverage: 0.9},
	}))
	v := e.Judge(context.Background(), judgeInput("völlig freie Antwort", 1))

	if v.Match != judge.MatchFreeformAccept {
		t.Fatalf("Match=%q, want %q", v.Match, judge.MatchFreeformAccept)
	}
}

func TestJudge_EvaluatorErrorFallsBackToHeuristic(t *testing.T) {
	t.Parallel()

	e := judge.New(judge.WithGoalEvaluator(stubEvaluator{err: errors.New("backend down")}))
	paraphrase := "der traveler greets den innkeeper und asks for ein room"
	v := e.Judge(context.Background(), judgeInput(paraphrase, 1))

	// The heuristic sees strong goal coverage, so the accept still happens.
	if v.Match != judge.MatchFreeformAccept {
		t.Fatalf("Match=%q, want %q via heuristic fallback", v.Match, judge.MatchFreeformAccept)
	}
}

// --- Language mismatch ---

func TestJudge_LanguageMismatchOverridesText(t *testing.T) {
	t.Parallel()

	e := judge.New()
	in := judgeInput("guten Tag", 0)
	in.DetectedLanguage = "en-US"
	v := e.Judge(context.Background(), in)

	if v.Match != judge.MatchLanguageMismatch {
		t.Fatalf("Match=%q, want %q even though text matched", v.Match, judge.MatchLanguageMismatch)
	}
	if v.ScoreDelta != -5 {
		t.Errorf("ScoreDelta=%d, want -5", v.ScoreDelta)
	}
	if v.LivesDelta != -1 {
		t.Errorf("LivesDelta=%d, want -1", v.LivesDelta)
	}
}

func TestJudge_LanguageMismatchSparesUncommitted(t *testing.T) {
	t.Parallel()

	e := judge.New()
	in := judgeInput("good day to you", 0)
	in.DetectedLanguage = "en"
	in.Committed = false
	v := e.Judge(context.Background(), in)

	if v.Match == judge.MatchLanguageMismatch {
		t.Fatalf("uncommitted attempt judged as language mismatch: %+v", v)
	}
	if v.LivesDelta != 0 || v.ScoreDelta > 0 {
		t.Errorf("uncommitted penalty applied: lives=%d score=%d", v.LivesDelta, v.ScoreDelta)
	}
}

func TestJudge_RegionVariantIsNotMismatch(t *testing.T) {
	t.Parallel()

	e := judge.New()
	in := judgeInput("guten Tag", 0)
	in.DetectedLanguage = "de-AT"
	v := e.Judge(context.Background(), in)

	if v.Match == judge.MatchLanguageMismatch {
		t.Fatalf("de-AT vs de-DE judged as mismatch: %+v", v)
	}
}

// --- Lives clamping ---

func TestJudge_LivesNeverGoBelowZero(t *testing.T) {
	t.Parallel()

	e := judge.New()
	goal := greetingGoal()
	goal.Penalties.LanguageMismatch.Lives = 5

	in := judge.Input{
		Transcript:       "hello there",
		Goal:             goal,
		DetectedLanguage: "en",
		Committed:        true,
		LivesRemaining:   2,
	}
	v := e.Judge(context.Background(), in)

	if v.LivesDelta != -2 {
		t.Fatalf("LivesDelta=%d, want -2 (clamped from -5)", v.LivesDelta)
	}
	if !v.Exhausted {
		t.Error("Exhausted=false after lives hit zero")
	}
	if v.Tag != judge.TagStall {
		t.Errorf("Tag=%q, want %q", v.Tag, judge.TagStall)
	}
}

func TestJudge_AlreadyExhaustedStalls(t *testing.T) {
	t.Parallel()

	e := judge.New()
	in := judgeInput("völlig falsche Antwort hier", 0)
	in.LivesRemaining = 0
	v := e.Judge(context.Background(), in)

	if v.LivesDelta != 0 {
		t.Fatalf("LivesDelta=%d, want 0 at zero lives", v.LivesDelta)
	}
	if !v.Exhausted {
		t.Error("Exhausted=false at zero lives")
	}
	if v.Tag != judge.TagStall {
		t.Errorf("Tag=%q, want %q", v.Tag, judge.TagStall)
	}
}

func TestJudge_ExactLastLifeStillAdvances(t *testing.T) {
	t.Parallel()

	e := judge.New()
	in := judgeInput("guten Tag", 0)
	in.LivesRemaining = 1
	v := e.Judge(context.Background(), in)

	if v.Tag != judge.TagAdvance {
		t.Fatalf("Tag=%q, want %q — a correct answer never costs the last life", v.Tag, judge.TagAdvance)
	}
	if v.Exhausted {
		t.Error("Exhausted=true on a successful answer")
	}
}

// --- Auto-finalize threshold ---

func TestAutoFinalizeThreshold(t *testing.T) {
	t.Parallel()

	cases := []struct {
		focus float64
		want  float64
	}{
		{0, 0.90},
		{0.5, 0.80},
		{1, 0.70},
		{-1, 0.90},
		{2, 0.70},
	}
	for _, tc := range cases {
		got := judge.AutoFinalizeThreshold(tc.focus)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("AutoFinalizeThreshold(%v)=%v, want %v", tc.focus, got, tc.want)
		}
	}
}
