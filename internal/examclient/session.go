package examclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Stage is the session's lifecycle tag. All rendering decisions hang off
// this single value; there are no side-channel booleans.
type Stage string

const (
	StageLoading    Stage = "LOADING"
	StageActive     Stage = "ACTIVE"
	StageFinalizing Stage = "FINALIZING"
	StageFinalized  Stage = "FINALIZED"
)

const (
	defaultTickInterval = time.Second
	defaultPollInterval = 15 * time.Second
)

// ErrNotLoaded is returned by Load when called on a session that already
// left the loading stage.
var ErrNotLoaded = errors.New("session already loaded")

// Config assembles a Session. Gateway is required; Store is optional (no
// continuity across restarts without it).
type Config struct {
	Gateway      Gateway
	Store        ContinuityStore
	Log          zerolog.Logger
	StudentID    int
	ExamID       uuid.UUID
	TickInterval time.Duration
	PollInterval time.Duration
}

// Session drives one exam attempt. The countdown it displays is always
// anchored to a deadline instant, never decremented freely, and the
// deadline itself is re-anchored from the server on every reconciliation.
// At most one finalize call ever leaves a Session.
type Session struct {
	gw           Gateway
	store        ContinuityStore
	log          zerolog.Logger
	studentID    int
	examID       uuid.UUID
	tickInterval time.Duration
	pollInterval time.Duration
	now          func() time.Time

	mu         sync.Mutex
	stage      Stage
	exam       *ExamContent
	questions  map[uuid.UUID]struct{}
	answers    map[uuid.UUID]uuid.UUID
	index      int
	deadline   time.Time
	finalizing bool
	autoFired  bool
	result     *SubmitResult
	terminal   string
	submitErr  error
}

// View is a consistent snapshot for rendering.
type View struct {
	Stage            Stage
	Title            string
	Index            int
	QuestionCount    int
	Question         *Question
	RemainingSeconds int
	Result           *SubmitResult
	TerminalState    string
	SubmitErr        error
}

// NewSession creates a Session in the loading stage.
func NewSession(cfg Config) *Session {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Session{
		gw:           cfg.Gateway,
		store:        cfg.Store,
		log:          cfg.Log.With().Str("component", "exam_session").Logger(),
		studentID:    cfg.StudentID,
		examID:       cfg.ExamID,
		tickInterval: tick,
		pollInterval: poll,
		now:          time.Now,
		stage:        StageLoading,
		answers:      make(map[uuid.UUID]uuid.UUID),
	}
}

// Load fetches the exam content and starts (or resumes) the attempt. Both
// fetches must succeed to enter the active stage; a transport failure on
// either leaves the session in loading and is returned to the caller.
//
// A backend that reports the attempt already finalized or expired is not an
// error: the session renders the terminal state immediately, which is the
// required behavior for a stale continuity record.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.stage != StageLoading {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	s.mu.Unlock()

	content, err := s.gw.FetchExamContent(ctx, s.examID)
	if err != nil {
		return fmt.Errorf("fetch exam content: %w", err)
	}

	start, err := s.gw.StartAttempt(ctx, s.examID)
	if err != nil {
		if de, ok := AsDomain(err); ok && (de.Code == CodeAlreadyFinalized || de.Code == CodeExpired) {
			s.lockTerminal(codeToState(de.Code))
			return nil
		}
		return fmt.Errorf("start attempt: %w", err)
	}

	s.mu.Lock()
	s.exam = content
	s.questions = make(map[uuid.UUID]struct{}, len(content.Questions))
	for i := range content.Questions {
		s.questions[content.Questions[i].ID] = struct{}{}
	}
	s.answers = make(map[uuid.UUID]uuid.UUID)
	s.index = 0
	s.deadline = start.Deadline
	s.stage = StageActive
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveAttempt(AttemptRecord{
			StudentID:       s.studentID,
			ExamID:          s.examID,
			DurationMinutes: content.DurationMinutes,
		}); err != nil {
			s.log.Warn().Err(err).Msg("continuity save failed")
		}
	}

	s.log.Info().
		Str("exam_id", s.examID.String()).
		Time("deadline", start.Deadline).
		Msg("Attempt active")

	// The start response already carries the server deadline, but one
	// explicit reconciliation pins the countdown to the clock endpoint
	// the session will keep polling.
	s.reconcile(ctx)
	return nil
}

// Run drives the countdown and the reconciliation poll until the session
// finalizes or the context is cancelled. Cancelling only stops the local
// timers; the server clock keeps running.
func (s *Session) Run(ctx context.Context) {
	tick := time.NewTicker(s.tickInterval)
	defer tick.Stop()
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.tick(ctx)
			if s.Stage() == StageFinalized {
				return
			}
		case <-poll.C:
			s.reconcile(ctx)
			if s.Stage() == StageFinalized {
				return
			}
		}
	}
}

// tick advances the displayed countdown and fires the automatic finalize
// once when it hits zero.
func (s *Session) tick(ctx context.Context) {
	s.mu.Lock()
	if s.stage != StageActive {
		s.mu.Unlock()
		return
	}
	remaining := s.remainingLocked()
	fire := remaining == 0 && !s.autoFired
	if fire {
		// One shot: a transport failure afterwards waits for a manual
		// retry instead of re-firing every second.
		s.autoFired = true
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveRemaining(s.examID, remaining); err != nil {
			s.log.Debug().Err(err).Msg("continuity remaining save failed")
		}
	}

	if fire {
		if err := s.finalize(ctx, true); err != nil {
			s.log.Warn().Err(err).Msg("automatic finalize failed; awaiting manual retry")
		}
	}
}

// reconcile replaces the local countdown with the server's. The direction
// is one-way: server numbers overwrite local ones, never the reverse. A
// failed poll is dropped; the countdown keeps running on the last anchor.
func (s *Session) reconcile(ctx context.Context) {
	s.mu.Lock()
	if s.stage != StageActive {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	clock, err := s.gw.PollRemaining(ctx, s.examID)
	if err != nil {
		s.log.Debug().Err(err).Msg("reconciliation poll failed")
		return
	}

	if clock.Finalized {
		// Another tab or the expiry worker beat us to it.
		s.lockTerminal("FINALIZED")
		return
	}

	if clock.RemainingSeconds <= 0 {
		s.mu.Lock()
		s.deadline = s.now()
		fire := !s.autoFired
		if fire {
			s.autoFired = true
		}
		s.mu.Unlock()
		if fire {
			if err := s.finalize(ctx, true); err != nil {
				s.log.Warn().Err(err).Msg("automatic finalize failed; awaiting manual retry")
			}
		}
		return
	}

	s.mu.Lock()
	if s.stage == StageActive {
		s.deadline = s.now().Add(time.Duration(clock.RemainingSeconds) * time.Second)
	}
	s.mu.Unlock()
}

// Select records an answer in memory. No network traffic happens per
// selection; answers travel once, at submission. Unknown questions and
// terminal stages are no-ops.
func (s *Session) Select(questionID, optionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageActive {
		return
	}
	if _, ok := s.questions[questionID]; !ok {
		return
	}
	s.answers[questionID] = optionID
}

// Next moves to the next question, clamped to the last.
func (s *Session) Next() { s.goTo(s.indexSnapshot() + 1) }

// Prev moves to the previous question, clamped to the first.
func (s *Session) Prev() { s.goTo(s.indexSnapshot() - 1) }

// GoTo jumps to a question index, clamped to the valid range.
func (s *Session) GoTo(i int) { s.goTo(i) }

func (s *Session) indexSnapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Session) goTo(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageActive || s.exam == nil {
		return
	}
	if i < 0 {
		i = 0
	}
	if max := len(s.exam.Questions) - 1; i > max {
		i = max
	}
	s.index = i
}

// Submit finalizes on the student's request. Unlike the automatic path it
// may be called again after a transport failure; the in-flight guard still
// ensures a single outstanding call.
func (s *Session) Submit(ctx context.Context) error {
	return s.finalize(ctx, false)
}

// finalize issues the one finalize call. Every path that ends an attempt
// converges here; the finalizing flag suppresses a second trigger while a
// call is in flight.
func (s *Session) finalize(ctx context.Context, auto bool) error {
	s.mu.Lock()
	if s.stage == StageFinalized || s.finalizing || s.stage != StageActive {
		s.mu.Unlock()
		return nil
	}
	s.finalizing = true
	s.stage = StageFinalizing
	s.submitErr = nil
	answers := s.buildAnswersLocked()
	s.mu.Unlock()

	result, err := s.gw.SubmitAnswers(ctx, s.examID, answers)

	s.mu.Lock()
	s.finalizing = false

	if err != nil {
		if de, ok := AsDomain(err); ok {
			// The server already considers the attempt closed; nothing
			// left to retry.
			s.stage = StageFinalized
			s.terminal = codeToState(de.Code)
			s.mu.Unlock()
			s.clearStore()
			s.log.Info().Str("code", de.Code).Msg("Attempt closed server-side")
			return err
		}
		// Transport failure: answers stay intact, the student retries.
		s.stage = StageActive
		s.submitErr = err
		s.mu.Unlock()
		return err
	}

	s.result = result
	s.stage = StageFinalized
	s.terminal = "FINALIZED"
	s.mu.Unlock()

	s.clearStore()
	s.log.Info().
		Bool("auto", auto).
		Float64("score", result.Score).
		Msg("Attempt finalized")
	return nil
}

// buildAnswersLocked produces exactly one entry per question, in exam
// order, with the unanswered sentinel for blanks. Callers hold s.mu.
func (s *Session) buildAnswersLocked() []Answer {
	answers := make([]Answer, 0, len(s.exam.Questions))
	for i := range s.exam.Questions {
		qID := s.exam.Questions[i].ID
		optionID, ok := s.answers[qID]
		if !ok {
			optionID = uuid.Nil
		}
		answers = append(answers, Answer{QuestionID: qID, OptionID: optionID})
	}
	return answers
}

// lockTerminal forces the terminal stage without a result, used when the
// server reports the attempt closed before or behind our back.
func (s *Session) lockTerminal(state string) {
	s.mu.Lock()
	if s.stage == StageFinalized {
		s.mu.Unlock()
		return
	}
	s.stage = StageFinalized
	s.terminal = state
	s.mu.Unlock()
	s.clearStore()
}

func (s *Session) clearStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Clear(); err != nil {
		s.log.Warn().Err(err).Msg("continuity clear failed")
	}
}

// Stage returns the current lifecycle tag.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Remaining returns the displayed remaining seconds.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked()
}

func (s *Session) remainingLocked() int {
	if s.stage != StageActive && s.stage != StageFinalizing {
		return 0
	}
	remaining := s.deadline.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// Snapshot returns a consistent view for rendering.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := View{
		Stage:            s.stage,
		Index:            s.index,
		RemainingSeconds: s.remainingLocked(),
		Result:           s.result,
		TerminalState:    s.terminal,
		SubmitErr:        s.submitErr,
	}
	if s.exam != nil {
		view.Title = s.exam.Title
		view.QuestionCount = len(s.exam.Questions)
		if s.index >= 0 && s.index < len(s.exam.Questions) {
			view.Question = &s.exam.Questions[s.index]
		}
	}
	return view
}

// Answered reports the selected option for a question, if any.
func (s *Session) Answered(questionID uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	optionID, ok := s.answers[questionID]
	return optionID, ok
}

// FormatRemaining renders seconds as HH:MM:SS, matching the server's
// remaining_formatted field.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

func codeToState(code string) string {
	if code == CodeExpired {
		return "EXPIRED"
	}
	return "FINALIZED"
}
