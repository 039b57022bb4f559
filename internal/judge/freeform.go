package judge

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/fablespeak/fablespeak/internal/scenario"
)

// tokenMatchThreshold is the per-token Jaro-Winkler score at which a spoken
// token counts as covering a goal token.
const tokenMatchThreshold = 0.85

// HeuristicEvaluator is the built-in, fully deterministic freeform goal
// evaluator. It measures how many content tokens of the goal description
// (and the expected phrasings) the transcript covers, using fuzzy token
// matching so recognizer misspellings still count.
//
// It is the default evaluator and the fallback when an external one fails.
type HeuristicEvaluator struct{}

// Compile-time interface check.
var _ GoalEvaluator = HeuristicEvaluator{}

// EvaluateGoal implements GoalEvaluator. It never returns an error.
func (HeuristicEvaluator) EvaluateGoal(_ context.Context, transcript string, goal scenario.Goal) (GoalAssessment, error) {
	goalTokens := contentTokens(goal.GoalText)
	if len(goalTokens) == 0 {
		// Fall back to the union of expected phrasings as the goal surface.
		seen := map[string]struct{}{}
		for _, phrase := range goal.Expected {
			for _, t := range contentTokens(phrase) {
				seen[t] = struct{}{}
			}
		}
		for t := range seen {
			goalTokens = append(goalTokens, t)
		}
	}
	if len(goalTokens) == 0 {
		return GoalAssessment{}, nil
	}

	spoken := contentTokens(transcript)
	if len(spoken) == 0 {
		return GoalAssessment{}, nil
	}

	covered := 0
	for _, gt := range goalTokens {
		for _, st := range spoken {
			if st == gt || matchr.JaroWinkler(st, gt, false) >= tokenMatchThreshold {
				covered++
				break
			}
		}
	}

	coverage := float64(covered) / float64(len(goalTokens))
	return GoalAssessment{
		Advances: coverage > 0,
		Coverage: coverage,
	}, nil
}

// contentTokens normalizes s and keeps the tokens long enough to carry
// meaning; one- and two-letter function words contribute nothing to goal
// coverage in any of the supported languages.
func contentTokens(s string) []string {
	var out []string
	for _, t := range strings.Fields(Normalize(s)) {
		if len([]rune(t)) >= 3 {
			out = append(out, t)
		}
	}
	return out
}
