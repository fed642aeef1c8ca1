package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/aulanet/aulatiempo-backend/internal/model"
)

// AttemptService owns the attempt lifecycle: idempotent start and
// single-winner finalize. It is the only writer of attempt state.
type AttemptService struct {
	attempts AttemptStore
	exams    ExamStore
	cache    ClockCache
	grace    time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewAttemptService creates a new AttemptService. grace is how long past
// the deadline a finalize call is still accepted.
func NewAttemptService(attempts AttemptStore, exams ExamStore, cache ClockCache, grace time.Duration, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		exams:    exams,
		cache:    cache,
		grace:    grace,
		now:      time.Now,
		log:      log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start returns the attempt for the pair, creating it if absent. Starting
// is get-or-create, never reset: a second call before expiry returns the
// same started_at, so reloading the exam page can never regain time.
func (s *AttemptService) Start(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	existing, err := s.attempts.Get(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}

	if existing != nil {
		return s.resumeExisting(ctx, existing)
	}

	attempt := &model.Attempt{
		ExamID:          examID,
		StudentID:       studentID,
		DurationMinutes: exam.DurationMinutes,
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start raced us; the winner's row is the attempt.
			winner, fetchErr := s.attempts.Get(ctx, examID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			return s.resumeExisting(ctx, winner)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.warmClock(ctx, attempt)
	return attempt, nil
}

// resumeExisting folds a repeat start into the existing attempt, rejecting
// terminal ones.
func (s *AttemptService) resumeExisting(ctx context.Context, a *model.Attempt) (*model.Attempt, error) {
	switch a.StateAt(s.now()) {
	case model.AttemptStateFinalized:
		return nil, ErrAlreadyFinalized
	case model.AttemptStateExpired:
		return nil, ErrExpired
	}
	s.warmClock(ctx, a)
	return a, nil
}

// warmClock re-primes the Redis clock keys. Failures are logged, never
// fatal: the clock falls back to Postgres.
func (s *AttemptService) warmClock(ctx context.Context, a *model.Attempt) {
	if err := s.cache.SetStart(ctx, a.ExamID, a.StudentID, a.StartedAt); err != nil {
		s.log.Warn().Err(err).Msg("cache attempt start failed")
	}
	if err := s.cache.SetDuration(ctx, a.ExamID, a.DurationMinutes); err != nil {
		s.log.Warn().Err(err).Msg("cache exam duration failed")
	}
}

// Finalize scores the submitted answers and closes the attempt. Exactly one
// call ever wins; concurrent callers get ErrAlreadyFinalized. A late call is
// still accepted within the grace window after the deadline, so the client's
// auto-submit at zero survives a slow network.
func (s *AttemptService) Finalize(ctx context.Context, studentID int, examID uuid.UUID, answers []model.AnswerEntry) (*model.AttemptResult, error) {
	attempt, err := s.attempts.Get(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotStarted
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	now := s.now()
	if attempt.Finalized() {
		return nil, ErrAlreadyFinalized
	}
	if now.After(attempt.Deadline().Add(s.grace)) {
		// Past the grace window the expiry worker owns the attempt.
		return nil, ErrExpired
	}

	answerKey, err := s.exams.GetAnswerKey(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}

	correct, total := scoreAnswers(answerKey, answers)
	score := roundScore(correct, total)

	won, err := s.attempts.Finalize(ctx, examID, studentID, score, correct, answers, now)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	if !won {
		return nil, ErrAlreadyFinalized
	}

	if err := s.cache.MarkFinalized(ctx, examID, studentID); err != nil {
		s.log.Warn().Err(err).Msg("mark finalized in cache failed")
	}

	s.log.Info().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Int("correct", correct).
		Int("total", total).
		Float64("score", score).
		Msg("Attempt finalized")

	return &model.AttemptResult{
		Message:        "Examen finalizado correctamente.",
		CorrectCount:   correct,
		TotalQuestions: total,
		Score:          score,
	}, nil
}

// Overview lists a student's attempts with their derived lock state.
func (s *AttemptService) Overview(ctx context.Context, studentID int) ([]model.AttemptOverview, error) {
	attempts, err := s.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	now := s.now()
	overview := make([]model.AttemptOverview, 0, len(attempts))
	for i := range attempts {
		a := &attempts[i]
		exam, err := s.exams.GetByID(ctx, a.ExamID)
		if err != nil {
			continue // Skip if exam was deleted
		}
		overview = append(overview, model.AttemptOverview{
			ExamID:    a.ExamID,
			ExamTitle: exam.Title,
			StartedAt: a.StartedAt,
			State:     a.StateAt(now),
			Score:     a.Score,
		})
	}
	return overview, nil
}

// SaveAnswerBuffer records one answer in the Redis crash-recovery buffer.
// It never touches the attempt row; submitted answers always replace it.
func (s *AttemptService) SaveAnswerBuffer(ctx context.Context, studentID int, examID uuid.UUID, questionID, optionID uuid.UUID) error {
	return s.cache.SaveAnswer(ctx, examID, studentID, questionID, optionID)
}

// scoreAnswers counts correct selections. A question missing from answers,
// or mapped to the unanswered sentinel, scores as incorrect. The total is
// the exam's question count, not the submission's length.
func scoreAnswers(answerKey map[uuid.UUID]uuid.UUID, answers []model.AnswerEntry) (correct, total int) {
	selected := make(map[uuid.UUID]uuid.UUID, len(answers))
	for _, a := range answers {
		// Last write wins per question.
		selected[a.QuestionID] = a.OptionID
	}

	total = len(answerKey)
	for qID, correctOption := range answerKey {
		chosen, ok := selected[qID]
		if !ok || chosen == model.UnansweredOption {
			continue
		}
		if chosen == correctOption {
			correct++
		}
	}
	return correct, total
}

// roundScore computes correct/total*100 rounded half away from zero to two
// decimal places. Zero-question exams score 0.
func roundScore(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	raw := float64(correct) / float64(total) * 100
	return math.Round(raw*100) / 100
}
