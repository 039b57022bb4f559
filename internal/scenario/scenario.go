// Package scenario defines the immutable dialogue-beat goals the speech
// engine judges against, and a YAML loader for scenario definition files.
//
// A Goal is constructed once per beat and never mutated; scene transitions
// swap in a new Goal value wholesale, so goals may be shared freely across
// sessions without aliasing hazards.
package scenario

// Mode distinguishes deliberate paused rehearsal from live streaming play.
type Mode string

const (
	// ModePaused is deliberate rehearsal: one uploaded utterance at a time,
	// judged synchronously.
	ModePaused Mode = "paused"

	// ModeLive is streaming play: audio chunks judged as they arrive.
	ModeLive Mode = "live"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModePaused || m == ModeLive
}

// LanguageMismatchPenalty configures the cost of answering in the wrong
// language during a committed action.
type LanguageMismatchPenalty struct {
	// Lives is the number of lives debited. Must be ≥ 0.
	Lives int `yaml:"lives"`

	// Points is an optional additional score debit. Must be ≥ 0; the engine
	// subtracts it. This is the only double-penalty case.
	Points int `yaml:"points"`
}

// IncorrectAnswerPenalty configures the cost of a committed attempt that does
// not match any expected phrase.
type IncorrectAnswerPenalty struct {
	// Lives is the number of lives debited. Must be ≥ 0.
	Lives int `yaml:"lives"`
}

// Penalties groups the per-event penalty overrides for one beat.
type Penalties struct {
	LanguageMismatch LanguageMismatchPenalty `yaml:"language_mismatch"`
	IncorrectAnswer  IncorrectAnswerPenalty  `yaml:"incorrect_answer"`
}

// Goal is one beat's success criteria. Immutable after construction.
type Goal struct {
	// ID identifies the beat within a story. Goals are looked up by ID on
	// session init and scene transition.
	ID int `yaml:"id"`

	// Prompt is the line the learner is responding to, used when building
	// repeat-prompt responses and freeform goal evaluation.
	Prompt string `yaml:"prompt"`

	// Expected lists the accepted phrasings for this beat. At least one
	// entry is required unless GoalText alone defines success.
	Expected []string `yaml:"expected"`

	// GoalText is a free-text description of what a response must achieve
	// narratively. Drives freeform acceptance at high judge focus.
	GoalText string `yaml:"goal"`

	// TargetLanguage is the BCP-47 tag the learner is expected to speak.
	TargetLanguage string `yaml:"target_language"`

	// RewardPoints is added to the score on success paths only.
	RewardPoints int `yaml:"reward_points"`

	// Penalties holds this beat's penalty overrides.
	Penalties Penalties `yaml:"penalties"`

	// Mode selects paused or live play for this beat.
	Mode Mode `yaml:"mode"`

	// NextID references the beat that follows on an advance outcome.
	// Zero means the story ends here.
	NextID int `yaml:"next_id"`
}

// HasNext reports whether an advance from this beat leads to another one.
func (g Goal) HasNext() bool { return g.NextID != 0 }
