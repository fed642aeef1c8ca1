package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/aulanet/aulatiempo-backend/internal/model"
)

type attemptKey struct {
	examID    uuid.UUID
	studentID int
}

type fakeExamStore struct {
	mu        sync.Mutex
	exams     map[uuid.UUID]*model.Exam
	content   map[uuid.UUID]*model.ExamContent
	answerKey map[uuid.UUID]map[uuid.UUID]uuid.UUID
}

func newFakeExamStore() *fakeExamStore {
	return &fakeExamStore{
		exams:     make(map[uuid.UUID]*model.Exam),
		content:   make(map[uuid.UUID]*model.ExamContent),
		answerKey: make(map[uuid.UUID]map[uuid.UUID]uuid.UUID),
	}
}

func (f *fakeExamStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exam, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *exam
	return &copied, nil
}

func (f *fakeExamStore) GetContent(ctx context.Context, id uuid.UUID) (*model.ExamContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.content[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return content, nil
}

func (f *fakeExamStore) GetAnswerKey(ctx context.Context, id uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.answerKey[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := make(map[uuid.UUID]uuid.UUID, len(key))
	for q, o := range key {
		out[q] = o
	}
	return out, nil
}

// fakeAttemptStore mirrors the repository's conflict semantics: Create on
// an existing pair reports pgx.ErrNoRows, Finalize is a compare-and-set on
// the finalized column.
type fakeAttemptStore struct {
	mu       sync.Mutex
	attempts map[attemptKey]*model.Attempt
	now      func() time.Time
}

func newFakeAttemptStore(now func() time.Time) *fakeAttemptStore {
	return &fakeAttemptStore{
		attempts: make(map[attemptKey]*model.Attempt),
		now:      now,
	}
}

func (f *fakeAttemptStore) Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptKey{examID, studentID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAttemptStore) Create(ctx context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := attemptKey{a.ExamID, a.StudentID}
	if _, exists := f.attempts[key]; exists {
		return pgx.ErrNoRows
	}
	a.StartedAt = f.now()
	stored := *a
	f.attempts[key] = &stored
	return nil
}

func (f *fakeAttemptStore) Finalize(ctx context.Context, examID uuid.UUID, studentID int, score float64, correctCount int, answers []model.AnswerEntry, finalizedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptKey{examID, studentID}]
	if !ok || a.FinalizedAt != nil {
		return false, nil
	}
	a.FinalizedAt = &finalizedAt
	a.Score = &score
	a.CorrectCount = &correctCount
	return true, nil
}

func (f *fakeAttemptStore) ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attempt
	for key, a := range f.attempts {
		if key.studentID == studentID {
			out = append(out, *a)
		}
	}
	return out, nil
}

type fakeClockCache struct {
	mu        sync.Mutex
	starts    map[attemptKey]time.Time
	durations map[uuid.UUID]int
	finalized map[attemptKey]bool
	answers   map[attemptKey]map[uuid.UUID]uuid.UUID
}

func newFakeClockCache() *fakeClockCache {
	return &fakeClockCache{
		starts:    make(map[attemptKey]time.Time),
		durations: make(map[uuid.UUID]int),
		finalized: make(map[attemptKey]bool),
		answers:   make(map[attemptKey]map[uuid.UUID]uuid.UUID),
	}
}

func (f *fakeClockCache) GetStart(ctx context.Context, examID uuid.UUID, studentID int) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.starts[attemptKey{examID, studentID}]
	return t, ok, nil
}

func (f *fakeClockCache) SetStart(ctx context.Context, examID uuid.UUID, studentID int, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Mirrors the Redis cache, which keeps starts at whole-second precision.
	f.starts[attemptKey{examID, studentID}] = time.Unix(startedAt.Unix(), 0)
	return nil
}

func (f *fakeClockCache) GetDuration(ctx context.Context, examID uuid.UUID) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.durations[examID]
	return d, ok, nil
}

func (f *fakeClockCache) SetDuration(ctx context.Context, examID uuid.UUID, minutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations[examID] = minutes
	return nil
}

func (f *fakeClockCache) IsFinalized(ctx context.Context, examID uuid.UUID, studentID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized[attemptKey{examID, studentID}], nil
}

func (f *fakeClockCache) MarkFinalized(ctx context.Context, examID uuid.UUID, studentID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := attemptKey{examID, studentID}
	f.finalized[key] = true
	delete(f.starts, key)
	delete(f.answers, key)
	return nil
}

func (f *fakeClockCache) SaveAnswer(ctx context.Context, examID uuid.UUID, studentID int, questionID, optionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := attemptKey{examID, studentID}
	if f.answers[key] == nil {
		f.answers[key] = make(map[uuid.UUID]uuid.UUID)
	}
	f.answers[key][questionID] = optionID
	return nil
}

// testClock is a settable frozen clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type attemptFixture struct {
	svc      *AttemptService
	exams    *fakeExamStore
	attempts *fakeAttemptStore
	cache    *fakeClockCache
	clock    *testClock
	examID   uuid.UUID
	// questions in order with their correct options
	questions []uuid.UUID
	correct   map[uuid.UUID]uuid.UUID
	wrong     map[uuid.UUID]uuid.UUID
}

// newAttemptFixture builds an AttemptService over a 30 minute exam with
// four questions and a 5 minute finalize grace.
func newAttemptFixture(t *testing.T) *attemptFixture {
	t.Helper()

	clock := newTestClock(time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC))
	exams := newFakeExamStore()
	attempts := newFakeAttemptStore(clock.Now)
	cache := newFakeClockCache()

	examID := uuid.New()
	exams.exams[examID] = &model.Exam{ID: examID, Title: "Matemáticas", DurationMinutes: 30}

	key := make(map[uuid.UUID]uuid.UUID)
	wrong := make(map[uuid.UUID]uuid.UUID)
	var questions []uuid.UUID
	for i := 0; i < 4; i++ {
		qID := uuid.New()
		questions = append(questions, qID)
		key[qID] = uuid.New()
		wrong[qID] = uuid.New()
	}
	exams.answerKey[examID] = key

	svc := NewAttemptService(attempts, exams, cache, 5*time.Minute, zerolog.Nop())
	svc.now = clock.Now

	return &attemptFixture{
		svc:       svc,
		exams:     exams,
		attempts:  attempts,
		cache:     cache,
		clock:     clock,
		examID:    examID,
		questions: questions,
		correct:   key,
		wrong:     wrong,
	}
}

func TestStartCreatesAttemptAndWarmsClock(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	attempt, err := fx.svc.Start(ctx, 1, fx.examID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !attempt.StartedAt.Equal(fx.clock.Now()) {
		t.Fatalf("started_at = %v, want %v", attempt.StartedAt, fx.clock.Now())
	}
	if attempt.DurationMinutes != 30 {
		t.Fatalf("duration = %d, want 30", attempt.DurationMinutes)
	}
	if _, ok, _ := fx.cache.GetStart(ctx, fx.examID, 1); !ok {
		t.Fatal("start not cached")
	}
	if _, ok, _ := fx.cache.GetDuration(ctx, fx.examID); !ok {
		t.Fatal("duration not cached")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Start(ctx, 1, fx.examID)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	fx.clock.Advance(10 * time.Minute)
	second, err := fx.svc.Start(ctx, 1, fx.examID)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("repeat start moved started_at: %v -> %v", first.StartedAt, second.StartedAt)
	}
	if second.Deadline() != first.Deadline() {
		t.Fatal("repeat start moved the deadline")
	}
}

func TestStartConcurrentLoserAdoptsWinnerRow(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	// The winner's row lands between our existence check and our insert;
	// the fake store answers the insert with the conflict sentinel.
	winner := &model.Attempt{ExamID: fx.examID, StudentID: 1, DurationMinutes: 30}
	if err := fx.attempts.Create(ctx, winner); err != nil {
		t.Fatalf("seed winner: %v", err)
	}

	got, err := fx.svc.Start(ctx, 1, fx.examID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !got.StartedAt.Equal(winner.StartedAt) {
		t.Fatalf("loser got started_at %v, winner wrote %v", got.StartedAt, winner.StartedAt)
	}
}

func TestStartUnknownExam(t *testing.T) {
	fx := newAttemptFixture(t)

	_, err := fx.svc.Start(context.Background(), 1, uuid.New())
	if !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("err = %v, want ErrExamNotFound", err)
	}
}

func TestStartRejectsClosedAttempts(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Start(ctx, 1, fx.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := fx.svc.Finalize(ctx, 1, fx.examID, fx.allAnswers(nil)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := fx.svc.Start(ctx, 1, fx.examID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("start after finalize: err = %v, want ErrAlreadyFinalized", err)
	}

	// A second student whose attempt simply ran out of time.
	if _, err := fx.svc.Start(ctx, 2, fx.examID); err != nil {
		t.Fatalf("Start student 2: %v", err)
	}
	fx.clock.Advance(31 * time.Minute)
	if _, err := fx.svc.Start(ctx, 2, fx.examID); !errors.Is(err, ErrExpired) {
		t.Fatalf("start after expiry: err = %v, want ErrExpired", err)
	}
}

// allAnswers builds one entry per question. chosen maps question index to
// the option to pick: "correct", "wrong", or "blank"; missing indexes are
// omitted from the submission entirely.
func (fx *attemptFixture) allAnswers(chosen map[int]string) []model.AnswerEntry {
	var out []model.AnswerEntry
	for i, qID := range fx.questions {
		pick, ok := chosen[i]
		if chosen != nil && !ok {
			continue
		}
		entry := model.AnswerEntry{QuestionID: qID}
		switch pick {
		case "wrong":
			entry.OptionID = fx.wrong[qID]
		case "blank":
			entry.OptionID = model.UnansweredOption
		default:
			entry.OptionID = fx.correct[qID]
		}
		out = append(out, entry)
	}
	return out
}

func TestFinalizeScoresUnansweredAsIncorrect(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Start(ctx, 1, fx.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 4 questions: one correct, one wrong, one sentinel, one missing
	// from the submission. Only the correct one scores.
	answers := fx.allAnswers(map[int]string{0: "correct", 1: "wrong", 2: "blank"})
	result, err := fx.svc.Finalize(ctx, 1, fx.examID, answers)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.CorrectCount != 1 {
		t.Fatalf("correct = %d, want 1", result.CorrectCount)
	}
	if result.TotalQuestions != 4 {
		t.Fatalf("total = %d, want 4", result.TotalQuestions)
	}
	if result.Score != 25 {
		t.Fatalf("score = %v, want 25", result.Score)
	}
}

func TestFinalizeLastWriteWinsPerQuestion(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Start(ctx, 1, fx.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	q0 := fx.questions[0]
	answers := []model.AnswerEntry{
		{QuestionID: q0, OptionID: fx.wrong[q0]},
		{QuestionID: q0, OptionID: fx.correct[q0]}, // later entry wins
	}
	result, err := fx.svc.Finalize(ctx, 1, fx.examID, answers)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.CorrectCount != 1 {
		t.Fatalf("correct = %d, want 1", result.CorrectCount)
	}
}

func TestFinalizeRoundsHalfAwayFromZero(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	// 3-question exam: 1/3 must come out as 33.33, not 33.33333...
	examID := uuid.New()
	fx.exams.exams[examID] = &model.Exam{ID: examID, Title: "Física", DurationMinutes: 30}
	key := make(map[uuid.UUID]uuid.UUID)
	var questions []uuid.UUID
	for i := 0; i < 3; i++ {
		qID := uuid.New()
		questions = append(questions, qID)
		key[qID] = uuid.New()
	}
	fx.exams.answerKey[examID] = key

	if _, err := fx.svc.Start(ctx, 1, examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	answers := []model.AnswerEntry{
		{QuestionID: questions[0], OptionID: key[questions[0]]},
		{QuestionID: questions[1], OptionID: model.UnansweredOption},
		{QuestionID: questions[2], OptionID: model.UnansweredOption},
	}
	result, err := fx.svc.Finalize(ctx, 1, examID, answers)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.Score != 33.33 {
		t.Fatalf("score = %v, want 33.33", result.Score)
	}
}

func TestFinalizeSingleWinner(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Start(ctx, 1, fx.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := fx.svc.Finalize(ctx, 1, fx.examID, fx.allAnswers(nil)); err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	if _, err := fx.svc.Finalize(ctx, 1, fx.examID, fx.allAnswers(nil)); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("second Finalize: err = %v, want ErrAlreadyFinalized", err)
	}
}

// staleReadStore serves reads that do not yet see a rival's finalize, so
// only the row-level compare-and-set can catch the race.
type staleReadStore struct {
	*fakeAttemptStore
}

func (s staleReadStore) Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := s.fakeAttemptStore.Get(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	a.FinalizedAt = nil
	return a, nil
}

func TestFinalizeLosesCompareAndSetRace(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Start(ctx, 1, fx.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The rival finalizes between our read and our update.
	if won, err := fx.attempts.Finalize(ctx, fx.examID, 1, 100, 4, nil, fx.clock.Now()); err != nil || !won {
		t.Fatalf("rival finalize: won=%v err=%v", won, err)
	}

	svc := NewAttemptService(staleReadStore{fx.attempts}, fx.exams, fx.cache, 5*time.Minute, zerolog.Nop())
	svc.now = fx.clock.Now

	if _, err := svc.Finalize(ctx, 1, fx.examID, fx.allAnswers(nil)); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("err = %v, want ErrAlreadyFinalized", err)
	}
}

func TestFinalizeGraceWindow(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Start(ctx, 1, fx.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Inside the grace window a late auto-submit still lands.
	fx.clock.Advance(30*time.Minute + 4*time.Minute)
	if _, err := fx.svc.Finalize(ctx, 1, fx.examID, fx.allAnswers(nil)); err != nil {
		t.Fatalf("finalize within grace: %v", err)
	}

	// Past it the attempt belongs to the expiry sweep.
	if _, err := fx.svc.Start(ctx, 2, fx.examID); err != nil {
		t.Fatalf("Start student 2: %v", err)
	}
	fx.clock.Advance(36 * time.Minute)
	if _, err := fx.svc.Finalize(ctx, 2, fx.examID, fx.allAnswers(nil)); !errors.Is(err, ErrExpired) {
		t.Fatalf("finalize past grace: err = %v, want ErrExpired", err)
	}
}

func TestFinalizeNotStarted(t *testing.T) {
	fx := newAttemptFixture(t)

	_, err := fx.svc.Finalize(context.Background(), 1, fx.examID, fx.allAnswers(nil))
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestFinalizeMarksCache(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Start(ctx, 1, fx.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := fx.svc.Finalize(ctx, 1, fx.examID, fx.allAnswers(nil)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	finalized, _ := fx.cache.IsFinalized(ctx, fx.examID, 1)
	if !finalized {
		t.Fatal("finalized marker not set")
	}
	if _, ok, _ := fx.cache.GetStart(ctx, fx.examID, 1); ok {
		t.Fatal("start key should be dropped with the marker")
	}
}

func TestOverviewDerivesStates(t *testing.T) {
	fx := newAttemptFixture(t)
	ctx := context.Background()

	other := uuid.New()
	fx.exams.exams[other] = &model.Exam{ID: other, Title: "Química", DurationMinutes: 10}
	fx.exams.answerKey[other] = map[uuid.UUID]uuid.UUID{uuid.New(): uuid.New()}

	if _, err := fx.svc.Start(ctx, 1, fx.examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := fx.svc.Start(ctx, 1, other); err != nil {
		t.Fatalf("Start other: %v", err)
	}
	if _, err := fx.svc.Finalize(ctx, 1, fx.examID, fx.allAnswers(nil)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	fx.clock.Advance(11 * time.Minute) // expires the 10 minute exam

	overview, err := fx.svc.Overview(ctx, 1)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(overview) != 2 {
		t.Fatalf("got %d rows, want 2", len(overview))
	}
	states := make(map[uuid.UUID]model.AttemptState)
	for _, row := range overview {
		states[row.ExamID] = row.State
	}
	if states[fx.examID] != model.AttemptStateFinalized {
		t.Fatalf("finalized exam state = %s", states[fx.examID])
	}
	if states[other] != model.AttemptStateExpired {
		t.Fatalf("expired exam state = %s", states[other])
	}
}
