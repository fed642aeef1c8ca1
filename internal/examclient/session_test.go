package examclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeGateway struct {
	mu          sync.Mutex
	content     *ExamContent
	contentErr  error
	start       StartResult
	startErr    error
	clock       Clock
	clockErr    error
	submit      SubmitResult
	submitErr   error
	submitCalls int
	lastAnswers []Answer
}

func (f *fakeGateway) FetchExamContent(ctx context.Context, examID uuid.UUID) (*ExamContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contentErr != nil {
		return nil, f.contentErr
	}
	return f.content, nil
}

func (f *fakeGateway) StartAttempt(ctx context.Context, examID uuid.UUID) (*StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	start := f.start
	return &start, nil
}

func (f *fakeGateway) PollRemaining(ctx context.Context, examID uuid.UUID) (*Clock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clockErr != nil {
		return nil, f.clockErr
	}
	clock := f.clock
	return &clock, nil
}

func (f *fakeGateway) SubmitAnswers(ctx context.Context, examID uuid.UUID, answers []Answer) (*SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	f.lastAnswers = answers
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	result := f.submit
	return &result, nil
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

func (f *fakeGateway) answers() []Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAnswers
}

func (f *fakeGateway) setSubmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

func twoQuestionExam(examID uuid.UUID) *ExamContent {
	q1 := uuid.New()
	q2 := uuid.New()
	return &ExamContent{
		ExamID:          examID,
		Title:           "Evaluación de historia",
		DurationMinutes: 30,
		Questions: []Question{
			{ID: q1, Prompt: "Pregunta uno", OrderNum: 1, Options: []Option{{ID: uuid.New(), Label: "A", OrderNum: 1}, {ID: uuid.New(), Label: "B", OrderNum: 2}}},
			{ID: q2, Prompt: "Pregunta dos", OrderNum: 2, Options: []Option{{ID: uuid.New(), Label: "A", OrderNum: 1}, {ID: uuid.New(), Label: "B", OrderNum: 2}}},
		},
	}
}

// newTestSession wires a loaded active session around a fake gateway and a
// frozen clock. The poll endpoint errors by default so loading does not
// reconcile against an unset fake clock.
func newTestSession(t *testing.T, base time.Time, remaining time.Duration) (*Session, *fakeGateway) {
	t.Helper()

	examID := uuid.New()
	gw := &fakeGateway{
		content:  twoQuestionExam(examID),
		start:    StartResult{StartedAt: base, Deadline: base.Add(remaining)},
		clockErr: errors.New("clock unavailable"),
		submit:   SubmitResult{Message: "ok", CorrectCount: 1, TotalQuestions: 2, Score: 50},
	}
	s := NewSession(Config{
		Gateway:   gw,
		Store:     NewMemoryStore(),
		Log:       zerolog.Nop(),
		StudentID: 7,
		ExamID:    examID,
	})
	s.now = func() time.Time { return base }

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := s.Stage(); got != StageActive {
		t.Fatalf("stage after load = %s, want %s", got, StageActive)
	}
	return s, gw
}

func TestLoadActivatesAndAnchorsDeadline(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	s, _ := newTestSession(t, base, 10*time.Minute)

	if got := s.Remaining(); got != 600 {
		t.Fatalf("remaining = %d, want 600", got)
	}
	view := s.Snapshot()
	if view.QuestionCount != 2 || view.Question == nil {
		t.Fatalf("snapshot missing questions: %+v", view)
	}
}

func TestLoadTransportFailureStaysLoading(t *testing.T) {
	base := time.Now()
	examID := uuid.New()
	gw := &fakeGateway{
		content:  twoQuestionExam(examID),
		startErr: errors.New("connection refused"),
		clockErr: errors.New("clock unavailable"),
	}
	s := NewSession(Config{Gateway: gw, Log: zerolog.Nop(), StudentID: 7, ExamID: examID})
	s.now = func() time.Time { return base }

	if err := s.Load(context.Background()); err == nil {
		t.Fatal("Load should fail on transport error")
	}
	if got := s.Stage(); got != StageLoading {
		t.Fatalf("stage = %s, want %s", got, StageLoading)
	}

	// The same session retries once the network is back.
	gw.mu.Lock()
	gw.startErr = nil
	gw.start = StartResult{StartedAt: base, Deadline: base.Add(time.Minute)}
	gw.mu.Unlock()
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load retry: %v", err)
	}
	if got := s.Stage(); got != StageActive {
		t.Fatalf("stage after retry = %s, want %s", got, StageActive)
	}
}

func TestLoadClosedAttemptRendersTerminal(t *testing.T) {
	for _, tc := range []struct {
		code  string
		state string
	}{
		{CodeAlreadyFinalized, "FINALIZED"},
		{CodeExpired, "EXPIRED"},
	} {
		examID := uuid.New()
		store := NewMemoryStore()
		_ = store.SaveAttempt(AttemptRecord{StudentID: 7, ExamID: examID, DurationMinutes: 30})
		_ = store.SaveRemaining(examID, 900)

		gw := &fakeGateway{
			content:  twoQuestionExam(examID),
			startErr: &DomainError{Code: tc.code, Message: "cerrado"},
			clockErr: errors.New("clock unavailable"),
		}
		s := NewSession(Config{Gateway: gw, Store: store, Log: zerolog.Nop(), StudentID: 7, ExamID: examID})

		if err := s.Load(context.Background()); err != nil {
			t.Fatalf("%s: Load: %v", tc.code, err)
		}
		if got := s.Stage(); got != StageFinalized {
			t.Fatalf("%s: stage = %s, want %s", tc.code, got, StageFinalized)
		}
		if view := s.Snapshot(); view.TerminalState != tc.state {
			t.Fatalf("%s: terminal state = %q, want %q", tc.code, view.TerminalState, tc.state)
		}
		if _, _, ok := store.Load(); ok {
			t.Fatalf("%s: stale continuity record not cleared", tc.code)
		}
	}
}

func TestCountdownClampsAtZero(t *testing.T) {
	base := time.Now()
	s, gw := newTestSession(t, base, 10*time.Second)
	gw.setSubmitErr(errors.New("down")) // keep the auto finalize from ending the session

	s.now = func() time.Time { return base.Add(time.Hour) }
	if got := s.Remaining(); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}

func TestAutoFinalizeFiresExactlyOnce(t *testing.T) {
	base := time.Now()
	s, gw := newTestSession(t, base, 5*time.Second)

	gw.setSubmitErr(errors.New("connection reset"))
	s.now = func() time.Time { return base.Add(time.Minute) }

	s.tick(context.Background())
	if got := gw.calls(); got != 1 {
		t.Fatalf("submit calls after first tick = %d, want 1", got)
	}
	if got := s.Stage(); got != StageActive {
		t.Fatalf("stage after failed auto finalize = %s, want %s", got, StageActive)
	}

	// Subsequent ticks must not re-fire on their own.
	s.tick(context.Background())
	s.tick(context.Background())
	if got := gw.calls(); got != 1 {
		t.Fatalf("submit calls after repeated ticks = %d, want 1", got)
	}
	if view := s.Snapshot(); view.SubmitErr == nil {
		t.Fatal("snapshot should surface the failed submission")
	}

	// A manual retry goes through.
	gw.setSubmitErr(nil)
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("manual retry: %v", err)
	}
	if got := s.Stage(); got != StageFinalized {
		t.Fatalf("stage = %s, want %s", got, StageFinalized)
	}
	if got := gw.calls(); got != 2 {
		t.Fatalf("submit calls = %d, want 2", got)
	}
}

func TestReconcileAdoptsServerRemaining(t *testing.T) {
	base := time.Now()
	s, gw := newTestSession(t, base, 10*time.Minute)

	gw.mu.Lock()
	gw.clockErr = nil
	gw.clock = Clock{RemainingSeconds: 42, State: "IN_PROGRESS"}
	gw.mu.Unlock()

	s.reconcile(context.Background())
	if got := s.Remaining(); got != 42 {
		t.Fatalf("remaining after reconcile = %d, want 42", got)
	}
}

func TestReconcilePollFailureKeepsLocalClock(t *testing.T) {
	base := time.Now()
	s, _ := newTestSession(t, base, 10*time.Minute)

	s.reconcile(context.Background()) // clockErr is set by the helper
	if got := s.Remaining(); got != 600 {
		t.Fatalf("remaining = %d, want 600", got)
	}
	if got := s.Stage(); got != StageActive {
		t.Fatalf("stage = %s, want %s", got, StageActive)
	}
}

func TestReconcileFinalizedElsewhereLocksTerminal(t *testing.T) {
	base := time.Now()
	s, gw := newTestSession(t, base, 10*time.Minute)

	gw.mu.Lock()
	gw.clockErr = nil
	gw.clock = Clock{Finalized: true, State: "FINALIZED"}
	gw.mu.Unlock()

	s.reconcile(context.Background())
	if got := s.Stage(); got != StageFinalized {
		t.Fatalf("stage = %s, want %s", got, StageFinalized)
	}
	if got := gw.calls(); got != 0 {
		t.Fatalf("submit calls = %d, want 0", got)
	}
}

func TestReconcileExpiredTriggersFinalize(t *testing.T) {
	base := time.Now()
	s, gw := newTestSession(t, base, 10*time.Minute)

	gw.mu.Lock()
	gw.clockErr = nil
	gw.clock = Clock{RemainingSeconds: 0, State: "EXPIRED"}
	gw.mu.Unlock()

	s.reconcile(context.Background())
	if got := s.Stage(); got != StageFinalized {
		t.Fatalf("stage = %s, want %s", got, StageFinalized)
	}
	if got := gw.calls(); got != 1 {
		t.Fatalf("submit calls = %d, want 1", got)
	}
}

func TestSubmitSendsOneEntryPerQuestion(t *testing.T) {
	base := time.Now()
	s, gw := newTestSession(t, base, 10*time.Minute)

	view := s.Snapshot()
	q1 := view.Question.ID
	chosen := view.Question.Options[0].ID
	s.Select(q1, chosen)

	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	sent := gw.answers()
	if len(sent) != 2 {
		t.Fatalf("sent %d answers, want 2", len(sent))
	}
	if sent[0].QuestionID != q1 || sent[0].OptionID != chosen {
		t.Fatalf("answered question miscoded: %+v", sent[0])
	}
	if sent[1].OptionID != uuid.Nil {
		t.Fatalf("unanswered question should carry the nil sentinel, got %s", sent[1].OptionID)
	}
}

func TestSelectIgnoredAfterFinalize(t *testing.T) {
	base := time.Now()
	s, _ := newTestSession(t, base, 10*time.Minute)

	view := s.Snapshot()
	q1 := view.Question.ID
	opt := view.Question.Options[0].ID

	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s.Select(q1, opt)
	if _, ok := s.Answered(q1); ok {
		t.Fatal("selection after finalize should be a no-op")
	}
}

func TestSubmitAfterFinalizeDoesNotRepeat(t *testing.T) {
	base := time.Now()
	s, gw := newTestSession(t, base, 10*time.Minute)

	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("second Submit should be a silent no-op, got %v", err)
	}
	if got := gw.calls(); got != 1 {
		t.Fatalf("submit calls = %d, want 1", got)
	}
}

func TestSubmitDomainRejectionLocksTerminal(t *testing.T) {
	base := time.Now()
	s, gw := newTestSession(t, base, 10*time.Minute)
	gw.setSubmitErr(&DomainError{Code: CodeExpired, Message: "vencido"})

	err := s.Submit(context.Background())
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DomainError", err)
	}
	if got := s.Stage(); got != StageFinalized {
		t.Fatalf("stage = %s, want %s", got, StageFinalized)
	}
	if view := s.Snapshot(); view.TerminalState != "EXPIRED" {
		t.Fatalf("terminal state = %q, want EXPIRED", view.TerminalState)
	}

	// No retry is possible once the server closed the attempt.
	gw.setSubmitErr(nil)
	_ = s.Submit(context.Background())
	if got := gw.calls(); got != 1 {
		t.Fatalf("submit calls = %d, want 1", got)
	}
}

func TestNavigationClampsToRange(t *testing.T) {
	base := time.Now()
	s, _ := newTestSession(t, base, 10*time.Minute)

	s.Prev()
	if got := s.Snapshot().Index; got != 0 {
		t.Fatalf("index = %d, want 0", got)
	}
	s.Next()
	s.Next()
	s.Next()
	if got := s.Snapshot().Index; got != 1 {
		t.Fatalf("index = %d, want 1", got)
	}
	s.GoTo(-5)
	if got := s.Snapshot().Index; got != 0 {
		t.Fatalf("index = %d, want 0", got)
	}
}
