// Package llmeval provides an LLM-backed judge.GoalEvaluator built on
// github.com/mozilla-ai/any-llm-go, so story-first deployments can accept
// freeform responses a token heuristic would miss (paraphrase, pronoun-only
// answers, indirect speech acts).
//
// The evaluator asks the model for a single-line verdict and parses it
// strictly; anything unparseable is an error, which makes the judge fall
// back to its deterministic heuristic.
package llmeval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/fablespeak/fablespeak/internal/judge"
	"github.com/fablespeak/fablespeak/internal/scenario"
)

// systemPrompt pins the model to the one-line verdict format parse expects.
const systemPrompt = `You grade one spoken line from a language-learning story game.
Given the scene goal and what the learner said, reply with EXACTLY one line:
ADVANCES <coverage>   if the reply moves the scene goal forward (coverage is 0.0-1.0, how completely it does so)
BLOCKED               if it does not.
No other words.`

// Evaluator implements judge.GoalEvaluator via an LLM. Safe for concurrent
// use; the backend client handles its own synchronisation.
type Evaluator struct {
	backend anyllmlib.Provider
	model   string
}

// Compile-time interface check.
var _ judge.GoalEvaluator = (*Evaluator)(nil)

// New creates an Evaluator backed by the named LLM provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama".
// model is the specific model to use (e.g., "gpt-4o-mini").
// opts are any-llm-go options (e.g., anyllmlib.WithAPIKey); without an API
// key option the backend reads its usual environment variable.
func New(providerName, model string, opts ...anyllmlib.Option) (*Evaluator, error) {
	if providerName == "" {
		return nil, fmt.Errorf("llmeval: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llmeval: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llmeval: create %q backend: %w", providerName, err)
	}
	return &Evaluator{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama", providerName)
	}
}

// EvaluateGoal implements judge.GoalEvaluator.
func (e *Evaluator) EvaluateGoal(ctx context.Context, transcript string, goal scenario.Goal) (judge.GoalAssessment, error) {
	goalText := goal.GoalText
	if goalText == "" {
		goalText = goal.Prompt
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Scene goal: %s\n", goalText)
	if len(goal.Expected) > 0 {
		fmt.Fprintf(&user, "Scripted phrasings (for reference only): %s\n", strings.Join(goal.Expected, " / "))
	}
	fmt.Fprintf(&user, "Target language: %s\n", goal.TargetLanguage)
	fmt.Fprintf(&user, "Learner said: %s\n", transcript)

	temp := 0.0
	resp, err := e.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:       e.model,
		Temperature: &temp,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return judge.GoalAssessment{}, fmt.Errorf("llmeval: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return judge.GoalAssessment{}, fmt.Errorf("llmeval: empty choices in response")
	}

	return parse(resp.Choices[0].Message.ContentString())
}

// parse interprets the model's one-line verdict.
func parse(reply string) (judge.GoalAssessment, error) {
	line := strings.TrimSpace(reply)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}

	switch {
	case strings.HasPrefix(line, "BLOCKED"):
		return judge.GoalAssessment{}, nil

	case strings.HasPrefix(line, "ADVANCES"):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "ADVANCES"))
		coverage, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return judge.GoalAssessment{}, fmt.Errorf("llmeval: unparseable coverage %q", rest)
		}
		if coverage < 0 || coverage > 1 {
			return judge.GoalAssessment{}, fmt.Errorf("llmeval: coverage %v out of range", coverage)
		}
		return judge.GoalAssessment{Advances: true, Coverage: coverage}, nil
	}
	return judge.GoalAssessment{}, fmt.Errorf("llmeval: unexpected reply %q", line)
}
