// Package session implements the streaming interaction session: a per-client
// state machine that ingests audio chunks, periodically transcribes the
// rolling buffer through the provider registry, judges transcripts against
// the current scenario goal, and emits typed events for the gateway to
// serialize.
//
// Sessions are fully independent. Within one session chunk ingestion is
// strictly sequential (the gateway's read loop is the only caller), while a
// transcription call runs on a background goroutine so the session keeps
// accepting chunks during provider latency. All exported methods are safe
// for concurrent use.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fablespeak/fablespeak/internal/judge"
	"github.com/fablespeak/fablespeak/internal/observe"
	"github.com/fablespeak/fablespeak/internal/registry"
	"github.com/fablespeak/fablespeak/internal/scenario"
	"github.com/fablespeak/fablespeak/pkg/asr"
)

// State is the primary session state. The penalty broadcast is transient and
// never changes the primary state.
type State string

const (
	StateIdle       State = "idle"
	StateReady      State = "ready"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateClosed     State = "closed"
)

// Caps bound a session's memory and lifetime.
type Caps struct {
	// ChunkBytes is the per-chunk byte cap; larger chunks are rejected
	// individually. Default: 64 KiB.
	ChunkBytes int

	// BufferBytes caps the rolling audio buffer; the oldest audio is
	// trimmed once exceeded. Default: 1 MiB.
	BufferBytes int

	// SessionBytes is the cumulative per-session cap; reaching it forces a
	// finalize. Default: 8 MiB.
	SessionBytes int

	// PartialMinBytes is how much new audio must accumulate before the
	// next partial transcription is dispatched. Default: 24 KiB.
	PartialMinBytes int

	// IdleTimeout closes a session that has received no chunks for this
	// long, discarding unjudged audio. Default: 90s.
	IdleTimeout time.Duration
}

// DefaultCaps returns the production defaults.
func DefaultCaps() Caps {
	return Caps{
		ChunkBytes:      64 << 10,
		BufferBytes:     1 << 20,
		SessionBytes:    8 << 20,
		PartialMinBytes: 24 << 10,
		IdleTimeout:     90 * time.Second,
	}
}

func (c Caps) withDefaults() Caps {
	d := DefaultCaps()
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = d.ChunkBytes
	}
	if c.BufferBytes <= 0 {
		c.BufferBytes = d.BufferBytes
	}
	if c.SessionBytes <= 0 {
		c.SessionBytes = d.SessionBytes
	}
	if c.PartialMinBytes <= 0 {
		c.PartialMinBytes = d.PartialMinBytes
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	return c
}

// Config wires a session's collaborators.
type Config struct {
	Registry  *registry.Registry
	Judge     *judge.Engine
	Scenarios *scenario.Store
	Caps      Caps

	// SampleRate of inbound PCM audio. Default: 16000.
	SampleRate int

	// DefaultLives is livesTotal when the init carries none. Default: 3.
	DefaultLives int

	// DefaultFocus is the judge focus applied when the init carries none.
	// Zero keeps the learning-first strictest setting.
	DefaultFocus float64

	// Metrics defaults to the process-wide registry.
	Metrics *observe.Metrics
}

// Init is the client's session initialization payload.
type Init struct {
	// ScenarioID selects the starting beat; zero means the store's first
	// goal.
	ScenarioID int

	// Language overrides the goal's target language when set.
	Language string

	// Focus is the judge focus; nil means 0 (learning-first).
	Focus *float64

	// Score and LivesRemaining carry over counters from a previous
	// connection; nil means fresh defaults.
	Score          *int
	LivesRemaining *int
}

// Session is one streaming interaction session.
type Session struct {
	id      string
	reg     *registry.Registry
	eng     *judge.Engine
	store   *scenario.Store
	caps    Caps
	rate    int
	metrics *observe.Metrics
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	mu               sync.Mutex
	state            State
	goal             scenario.Goal
	focus            float64
	languageOverride string
	score            int
	livesTotal       int
	livesRemaining   int

	buffer       []byte
	pending      []byte
	totalBytes   int
	newBytes     int
	transcript   string
	detectedLang string
	seq          uint64
	turnEpoch    uint64

	inFlight      bool
	stopRequested bool
	lastActivity  time.Time
	idleTimer     *time.Timer
}

// New creates a session in the idle state. The caller owns the id.
func New(id string, cfg Config) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.DefaultLives <= 0 {
		cfg.DefaultLives = 3
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:      id,
		reg:     cfg.Registry,
		eng:     cfg.Judge,
		store:   cfg.Scenarios,
		caps:    cfg.Caps.withDefaults(),
		rate:    cfg.SampleRate,
		metrics: cfg.Metrics,
		log:     slog.With("session", id),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan Event, 64),
		state:   StateIdle,

		focus:          cfg.DefaultFocus,
		livesTotal:     cfg.DefaultLives,
		livesRemaining: cfg.DefaultLives,
		lastActivity:   time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the outbound event channel. It is closed when the session
// closes.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current primary state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Counters returns the current score and lives, for tests and diagnostics.
func (s *Session) Counters() (score, livesRemaining, livesTotal int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score, s.livesRemaining, s.livesTotal
}

// Start transitions idle → ready from the init payload and emits the first
// ready event.
func (s *Session) Start(init Init) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("session %s: start in state %s", s.id, s.state)
	}

	goal, ok := s.resolveGoal(init.ScenarioID)
	if !ok {
		return fmt.Errorf("session %s: unknown scenario %d", s.id, init.ScenarioID)
	}
	s.goal = goal
	s.languageOverride = init.Language

	if init.Focus != nil {
		f := *init.Focus
		if f < 0 || f > 1 {
			return fmt.Errorf("session %s: judge focus %v out of range", s.id, f)
		}
		s.focus = f
	}
	if init.Score != nil {
		if *init.Score < 0 {
			return fmt.Errorf("session %s: negative carried score", s.id)
		}
		s.score = *init.Score
	}
	if init.LivesRemaining != nil {
		if *init.LivesRemaining < 0 || *init.LivesRemaining > s.livesTotal {
			return fmt.Errorf("session %s: carried lives %d out of range", s.id, *init.LivesRemaining)
		}
		s.livesRemaining = *init.LivesRemaining
	}

	s.state = StateReady
	s.touchLocked()
	s.idleTimer = time.AfterFunc(s.caps.IdleTimeout, s.onIdleTimeout)
	s.emitReady()
	return nil
}

func (s *Session) resolveGoal(id int) (scenario.Goal, bool) {
	if id == 0 {
		return s.store.First(), true
	}
	return s.store.Get(id)
}

// targetLanguage applies the session's language override to the current goal.
func (s *Session) targetLanguage() string {
	if s.languageOverride != "" {
		return s.languageOverride
	}
	return s.goal.TargetLanguage
}

// PushChunk ingests one audio chunk. Cap violations reject the chunk (or
// force a finalize at the session cap) via events; the error return is
// reserved for calls in an invalid state.
func (s *Session) PushChunk(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		s.state = StateStreaming
	case StateStreaming:
	case StateFinalizing:
		// A chunk racing the finalize is not a protocol violation; it is
		// held aside and folded into the next turn.
	default:
		return fmt.Errorf("session %s: chunk in state %s", s.id, s.state)
	}
	s.touchLocked()

	if len(chunk) > s.caps.ChunkBytes {
		s.metrics.RecordRejectedChunk(s.ctx, "chunk_bytes")
		s.emit(Error{
			Message:     fmt.Sprintf("chunk of %d bytes exceeds the %d byte cap", len(chunk), s.caps.ChunkBytes),
			Recoverable: true,
		})
		return nil
	}
	if s.totalBytes+len(chunk) > s.caps.SessionBytes {
		s.metrics.RecordRejectedChunk(s.ctx, "session_bytes")
		s.emit(Error{
			Message:     "session audio cap reached, finalizing",
			Recoverable: true,
		})
		if s.state != StateFinalizing {
			s.finalizeLocked()
		}
		return nil
	}

	if s.state == StateFinalizing {
		// The in-flight call already snapshotted its audio; bytes landing
		// now belong to the next turn.
		s.pending = append(s.pending, chunk...)
		s.totalBytes += len(chunk)
		if over := len(s.pending) - s.caps.BufferBytes; over > 0 {
			s.pending = s.pending[over:]
		}
		return nil
	}

	s.buffer = append(s.buffer, chunk...)
	s.totalBytes += len(chunk)
	s.newBytes += len(chunk)
	if over := len(s.buffer) - s.caps.BufferBytes; over > 0 {
		// Rolling buffer: drop the oldest audio, keep the newest.
		s.buffer = s.buffer[over:]
	}

	s.maybeTranscribeLocked()
	return nil
}

// Stop forces finalization. A not-yet-dispatched partial is skipped; an
// in-flight provider call completes and its result is used.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStreaming, StateReady:
	default:
		return
	}
	s.touchLocked()

	if s.inFlight {
		s.stopRequested = true
		s.state = StateFinalizing
		return
	}
	s.finalizeLocked()
}

// ResetTurn returns the session to ready on the same goal, clearing buffered
// audio and the rolling transcript but keeping score and lives.
func (s *Session) ResetTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady, StateStreaming, StateFinalizing:
	default:
		return
	}
	s.touchLocked()
	s.pending = nil
	s.clearTurnLocked()
	s.stopRequested = false
	s.state = StateReady
	s.emit(Reset{Message: "session reset"})
	s.emitReady()
}

// Close tears the session down, discarding any unjudged audio, and closes
// the event channel.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.cancel()
	close(s.events)
}

// LastActivity reports when the session last received a chunk or control
// message.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touchLocked() {
	s.lastActivity = time.Now()
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.caps.IdleTimeout)
	}
}

func (s *Session) onIdleTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	// An in-flight call holds the timer implicitly via its completion touch;
	// if we got here the session is genuinely quiet.
	s.log.Info("session idle timeout", "idle", time.Since(s.lastActivity))
	s.emit(Error{Message: "session closed after idle timeout", Recoverable: false})
	s.closeLocked()
}

// maybeTranscribeLocked dispatches a partial transcription when enough new
// audio has accumulated and no call is in flight.
func (s *Session) maybeTranscribeLocked() {
	if s.inFlight || s.state != StateStreaming {
		return
	}
	if s.newBytes < s.caps.PartialMinBytes {
		return
	}

	buf := make([]byte, len(s.buffer))
	copy(buf, s.buffer)
	s.newBytes = 0
	s.inFlight = true

	go s.transcribe(buf, s.turnEpoch)
}

// transcribe runs one registry call off the ingestion path and feeds the
// result back into the state machine. epoch identifies the turn the call was
// dispatched for.
func (s *Session) transcribe(audio []byte, epoch uint64) {
	res, err := s.reg.Transcribe(s.ctx, registry.ContextStreaming, asr.Request{
		Audio:        audio,
		SampleRate:   s.rate,
		LanguageHint: s.targetLanguageSnapshot(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	if s.state == StateClosed {
		return
	}
	if epoch != s.turnEpoch {
		// The turn this call was serving was reset or finalized while the
		// provider was working; its result has no turn to land in.
		return
	}

	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		// A provider outage mid-turn is recoverable: keep the buffered
		// audio and accept the next chunk; nothing was debited.
		s.log.Warn("partial transcription failed", "error", err)
		s.emit(Error{Message: "transcription unavailable, please continue", Recoverable: true})
		s.newBytes = len(s.buffer)
		if s.stopRequested || s.state == StateFinalizing {
			s.stopRequested = false
			if s.transcript == "" {
				// The outage left nothing to judge. Judging the empty
				// transcript would debit a life for a backend failure.
				s.abortTurnLocked()
				return
			}
			s.finalizeLocked()
		}
		return
	}

	if res.Text != "" {
		s.transcript = res.Text
		s.detectedLang = res.DetectedLanguage
	}
	s.seq++
	s.emit(Partial{
		Seq:              s.seq,
		Transcript:       s.transcript,
		DetectedLanguage: s.detectedLang,
		TargetLanguage:   s.targetLanguage(),
	})
	s.metrics.RecordEvent(s.ctx, string(EventPartial))

	if s.stopRequested || s.state == StateFinalizing {
		s.stopRequested = false
		s.finalizeLocked()
		return
	}

	// Advisory partial judgment: never debits anything, only decides
	// whether the turn is confident enough to finalize on its own.
	v := s.eng.Judge(s.ctx, judge.Input{
		Transcript:       s.transcript,
		Goal:             s.goalWithOverride(),
		Focus:            s.focus,
		DetectedLanguage: s.detectedLang,
		Committed:        false,
		LivesRemaining:   s.livesRemaining,
	})
	if v.Tag == judge.TagAdvance && v.Confidence >= judge.AutoFinalizeThreshold(s.focus) {
		s.finalizeLocked()
		return
	}

	s.maybeTranscribeLocked()
}

// targetLanguageSnapshot reads the target language under the lock for the
// goroutine that runs without it.
func (s *Session) targetLanguageSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetLanguage()
}

// goalWithOverride returns the current goal with the session language
// override applied.
func (s *Session) goalWithOverride() scenario.Goal {
	g := s.goal
	if s.languageOverride != "" {
		g.TargetLanguage = s.languageOverride
	}
	return g
}

// finalizeLocked judges the best available transcript as the committed turn
// outcome, applies the deltas, and emits penalty (if any) then final.
func (s *Session) finalizeLocked() {
	s.state = StateFinalizing
	start := time.Now()

	goal := s.goalWithOverride()
	committed := goal.Mode != scenario.ModePaused
	v := s.eng.Judge(s.ctx, judge.Input{
		Transcript:       s.transcript,
		Goal:             goal,
		Focus:            s.focus,
		DetectedLanguage: s.detectedLang,
		Committed:        committed,
		LivesRemaining:   s.livesRemaining,
	})

	s.score += v.ScoreDelta
	if s.score < 0 {
		s.score = 0
	}
	s.livesRemaining += v.LivesDelta

	if v.LivesDelta != 0 {
		s.emit(Penalty{
			PenaltyType:    penaltyType(v.Match),
			LivesDelta:     v.LivesDelta,
			LivesRemaining: s.livesRemaining,
			LivesTotal:     s.livesTotal,
			Score:          s.score,
			Message:        penaltyMessage(v),
		})
		s.metrics.RecordEvent(s.ctx, string(EventPenalty))
	}

	final := Final{
		Result:         string(v.Tag),
		MatchType:      string(v.Match),
		Confidence:     v.Confidence,
		Heard:          s.transcript,
		TargetLanguage: goal.TargetLanguage,
		Mode:           string(s.goal.Mode),
		Score:          s.score,
		LivesRemaining: s.livesRemaining,
		LivesTotal:     s.livesTotal,
	}

	advance := v.Tag == judge.TagAdvance && s.goal.HasNext()
	if advance {
		final.NextScenarioID = s.goal.NextID
	}
	s.emit(final)
	s.metrics.RecordVerdict(s.ctx, string(v.Match), string(v.Tag), time.Since(start).Seconds())
	s.metrics.TurnDuration.Record(s.ctx, time.Since(start).Seconds())

	s.clearTurnLocked()
	s.state = StateReady

	if advance {
		if next, ok := s.store.Get(s.goal.NextID); ok {
			s.goal = next
			s.emitReady()
		}
	}
}

// abortTurnLocked resolves a stopped turn whose provider chain never produced
// a transcript. Nothing is judged: the final carries a retry result with the
// counters untouched.
func (s *Session) abortTurnLocked() {
	s.emit(Final{
		Result:         string(judge.TagRetry),
		MatchType:      "transcription_failed",
		TargetLanguage: s.targetLanguage(),
		Mode:           string(s.goal.Mode),
		Score:          s.score,
		LivesRemaining: s.livesRemaining,
		LivesTotal:     s.livesTotal,
	})
	s.metrics.RecordEvent(s.ctx, string(EventFinal))
	s.clearTurnLocked()
	s.state = StateReady
}

// clearTurnLocked ends the current turn: audio held aside during the
// finalize becomes the next turn's buffer, everything else is dropped.
// Counters and seq survive; the epoch bump orphans any still-running
// provider call.
func (s *Session) clearTurnLocked() {
	s.turnEpoch++
	s.buffer = s.pending
	s.pending = nil
	s.newBytes = len(s.buffer)
	s.transcript = ""
	s.detectedLang = ""
}

func (s *Session) emitReady() {
	s.emit(Ready{
		ScenarioID:     s.goal.ID,
		TargetLanguage: s.targetLanguage(),
		Mode:           string(s.goal.Mode),
		LivesTotal:     s.livesTotal,
		LivesRemaining: s.livesRemaining,
		Score:          s.score,
	})
	s.metrics.RecordEvent(s.ctx, string(EventReady))
}

// emit sends without blocking the state machine. A consumer that stops
// draining loses events and will be disconnected by the gateway's write
// timeout anyway.
func (s *Session) emit(e Event) {
	if s.state == StateClosed {
		return
	}
	select {
	case s.events <- e:
	default:
		s.log.Warn("event buffer full, dropping", "event", string(e.Type()))
	}
}

// penaltyType maps a verdict onto the penalty event vocabulary.
func penaltyType(m judge.MatchType) string {
	if m == judge.MatchLanguageMismatch {
		return "language_mismatch"
	}
	return "incorrect_answer"
}

func penaltyMessage(v judge.Verdict) string {
	switch v.Match {
	case judge.MatchLanguageMismatch:
		return "spoken in the wrong language for this scene"
	default:
		if v.Exhausted {
			return "no attempts remaining"
		}
		return "that didn't land, try again"
	}
}
