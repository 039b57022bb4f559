package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// file is the YAML document shape of a scenario definition file.
type file struct {
	Scenarios []Goal `yaml:"scenarios"`
}

// Store holds the loaded goals of one story, keyed by beat ID. Read-only
// after construction and therefore safe for concurrent use.
type Store struct {
	goals   map[int]Goal
	firstID int
}

// Load reads the YAML scenario file at path and returns a validated Store.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open %q: %w", path, err)
	}
	defer f.Close()

	st, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("scenario: parse %q: %w", path, err)
	}
	return st, nil
}

// LoadFromReader decodes a YAML scenario document from r and validates it.
// Useful in tests where definitions are constructed from string literals.
func LoadFromReader(r io.Reader) (*Store, error) {
	var doc file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("scenario: decode yaml: %w", err)
	}

	if err := validate(doc.Scenarios); err != nil {
		return nil, err
	}

	goals := make(map[int]Goal, len(doc.Scenarios))
	for _, g := range doc.Scenarios {
		if g.Mode == "" {
			g.Mode = ModeLive
		}
		goals[g.ID] = g
	}
	return &Store{goals: goals, firstID: doc.Scenarios[0].ID}, nil
}

// validate checks that the scenario list forms a coherent story. It returns a
// joined error listing all failures found.
func validate(goals []Goal) error {
	var errs []error

	if len(goals) == 0 {
		return errors.New("scenario: at least one scenario is required")
	}

	seen := make(map[int]int, len(goals))
	for i, g := range goals {
		prefix := fmt.Sprintf("scenarios[%d]", i)
		if g.ID == 0 {
			errs = append(errs, fmt.Errorf("%s.id is required and must be non-zero", prefix))
		} else if prev, ok := seen[g.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %d is a duplicate of scenarios[%d]", prefix, g.ID, prev))
		} else {
			seen[g.ID] = i
		}
		if len(g.Expected) == 0 && g.GoalText == "" {
			errs = append(errs, fmt.Errorf("%s: either expected phrases or a goal text is required", prefix))
		}
		if g.TargetLanguage == "" {
			errs = append(errs, fmt.Errorf("%s.target_language is required", prefix))
		}
		if g.Mode != "" && !g.Mode.IsValid() {
			errs = append(errs, fmt.Errorf("%s.mode %q is invalid; valid values: paused, live", prefix, g.Mode))
		}
		if g.RewardPoints < 0 {
			errs = append(errs, fmt.Errorf("%s.reward_points must not be negative", prefix))
		}
		if g.Penalties.LanguageMismatch.Lives < 0 || g.Penalties.LanguageMismatch.Points < 0 {
			errs = append(errs, fmt.Errorf("%s.penalties.language_mismatch values must not be negative", prefix))
		}
		if g.Penalties.IncorrectAnswer.Lives < 0 {
			errs = append(errs, fmt.Errorf("%s.penalties.incorrect_answer.lives must not be negative", prefix))
		}
	}

	// Next references must resolve.
	for i, g := range goals {
		if g.NextID != 0 {
			if _, ok := seen[g.NextID]; !ok {
				errs = append(errs, fmt.Errorf("scenarios[%d].next_id %d does not reference a known scenario", i, g.NextID))
			}
		}
	}

	return errors.Join(errs...)
}

// Get returns the goal with the given beat ID.
func (s *Store) Get(id int) (Goal, bool) {
	g, ok := s.goals[id]
	return g, ok
}

// First returns the story's opening goal, the one declared first in the file.
// Used when a session init carries no scenario ID.
func (s *Store) First() Goal {
	return s.goals[s.firstID]
}

// Len returns the number of loaded goals.
func (s *Store) Len() int { return len(s.goals) }
