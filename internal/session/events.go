package session

// EventType discriminates the outbound events a session emits.
type EventType string

const (
	EventReady   EventType = "ready"
	EventPartial EventType = "partial"
	EventPenalty EventType = "penalty"
	EventFinal   EventType = "final"
	EventReset   EventType = "reset"
	EventError   EventType = "error"
)

// Event is one typed outbound message. The gateway drains the session's
// event channel and serializes each event with its Type as the `event`
// discriminator.
type Event interface {
	Type() EventType
}

// Ready announces the current beat and session counters. Emitted on init,
// after a reset, and when an advance assigns the next beat.
type Ready struct {
	ScenarioID     int    `json:"scenario_id"`
	TargetLanguage string `json:"target_language"`
	Mode           string `json:"mode"`
	LivesTotal     int    `json:"lives_total"`
	LivesRemaining int    `json:"lives_remaining"`
	Score          int    `json:"score"`
}

func (Ready) Type() EventType { return EventReady }

// Partial carries an intermediate transcript. Seq strictly increases for the
// lifetime of the session, across turns.
type Partial struct {
	Seq              uint64 `json:"seq"`
	Transcript       string `json:"transcript"`
	DetectedLanguage string `json:"detected_language,omitempty"`
	TargetLanguage   string `json:"target_language"`
}

func (Partial) Type() EventType { return EventPartial }

// Penalty is the transient broadcast for a lives deduction. It always
// precedes the Final resolving the same turn.
type Penalty struct {
	PenaltyType    string `json:"type"`
	LivesDelta     int    `json:"lives_delta"`
	LivesRemaining int    `json:"lives_remaining"`
	LivesTotal     int    `json:"lives_total"`
	Score          int    `json:"score"`
	Message        string `json:"message"`
}

func (Penalty) Type() EventType { return EventPenalty }

// Final resolves one turn: the judged outcome plus the updated counters.
type Final struct {
	Result         string  `json:"result"`
	MatchType      string  `json:"match_type"`
	Confidence     float64 `json:"confidence"`
	Heard          string  `json:"heard"`
	TargetLanguage string  `json:"target_language"`
	Mode           string  `json:"mode"`
	Score          int     `json:"score"`
	LivesRemaining int     `json:"lives_remaining"`
	LivesTotal     int     `json:"lives_total"`
	NextScenarioID int     `json:"next_scenario_id,omitempty"`
}

func (Final) Type() EventType { return EventFinal }

// Reset signals that the session returned to ready without tearing down the
// connection.
type Reset struct {
	Message string `json:"message"`
}

func (Reset) Type() EventType { return EventReset }

// Error signals a session-level failure. Recoverable errors leave the
// session open; non-recoverable ones precede a close.
type Error struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func (Error) Type() EventType { return EventError }
