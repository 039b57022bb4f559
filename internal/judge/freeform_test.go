package judge_test

import (
	"context"
	"testing"

	"github.com/fablespeak/fablespeak/internal/judge"
	"github.com/fablespeak/fablespeak/internal/scenario"
)

func TestHeuristicEvaluator_Coverage(t *testing.T) {
	t.Parallel()

	goal := scenario.Goal{
		GoalText:       "order bread and cheese at the market",
		TargetLanguage: "en-US",
	}
	ev := judge.HeuristicEvaluator{}

	full, err := ev.EvaluateGoal(context.Background(), "I would like to order some bread and cheese at the market please", goal)
	if err != nil {
		t.Fatalf("EvaluateGoal: %v", err)
	}
	if !full.Advances {
		t.Error("full paraphrase does not advance")
	}
	if full.Coverage < 0.9 {
		t.Errorf("full paraphrase coverage %.2f, want >= 0.9", full.Coverage)
	}

	partial, err := ev.EvaluateGoal(context.Background(), "some bread please", goal)
	if err != nil {
		t.Fatalf("EvaluateGoal: %v", err)
	}
	if partial.Coverage >= full.Coverage {
		t.Errorf("partial coverage %.2f not below full %.2f", partial.Coverage, full.Coverage)
	}

	none, err := ev.EvaluateGoal(context.Background(), "where is the train station", goal)
	if err != nil {
		t.Fatalf("EvaluateGoal: %v", err)
	}
	if none.Coverage != 0 {
		t.Errorf("unrelated coverage %.2f, want 0", none.Coverage)
	}
	if none.Advances {
		t.Error("unrelated transcript advances")
	}
}

func TestHeuristicEvaluator_FallsBackToExpectedPhrases(t *testing.T) {
	t.Parallel()

	goal := scenario.Goal{
		Expected:       []string{"guten Morgen", "guten Tag"},
		TargetLanguage: "de-DE",
	}
	assess, err := judge.HeuristicEvaluator{}.EvaluateGoal(context.Background(), "guten morgen zusammen", goal)
	if err != nil {
		t.Fatalf("EvaluateGoal: %v", err)
	}
	if !assess.Advances || assess.Coverage <= 0 {
		t.Fatalf("assess=%+v, want positive coverage from expected phrases", assess)
	}
}

func TestHeuristicEvaluator_EmptyInputs(t *testing.T) {
	t.Parallel()

	assess, err := judge.HeuristicEvaluator{}.EvaluateGoal(context.Background(), "", scenario.Goal{GoalText: "buy the map"})
	if err != nil {
		t.Fatalf("EvaluateGoal: %v", err)
	}
	if assess.Advances || assess.Coverage != 0 {
		t.Fatalf("empty transcript assess=%+v, want zero", assess)
	}

	assess, err = judge.HeuristicEvaluator{}.EvaluateGoal(context.Background(), "guten Tag", scenario.Goal{})
	if err != nil {
		t.Fatalf("EvaluateGoal: %v", err)
	}
	if assess.Advances {
		t.Fatalf("goal-less assess=%+v, want no advance", assess)
	}
}
