package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptState enumerates the lifecycle states of an attempt.
type AttemptState string

const (
	AttemptStateNotStarted AttemptState = "NOT_STARTED"
	AttemptStateInProgress AttemptState = "IN_PROGRESS"
	AttemptStateExpired    AttemptState = "EXPIRED"
	AttemptStateFinalized  AttemptState = "FINALIZED"
)

// UnansweredOption is the sentinel option id clients submit for questions
// they left blank. Any answer equal to it scores as incorrect.
var UnansweredOption = uuid.Nil

// Attempt is one student's single timed instance of an exam. Identity is
// the (exam_id, student_id) pair; a second row for the same pair can never
// exist. started_at is written exactly once, finalized_at exactly once.
type Attempt struct {
	ExamID          uuid.UUID  `json:"exam_id"`
	StudentID       int        `json:"student_id"`
	StartedAt       time.Time  `json:"started_at"`
	DurationMinutes int        `json:"duration_minutes"`
	FinalizedAt     *time.Time `json:"finalized_at,omitempty"`
	Score           *float64   `json:"score,omitempty"`
	CorrectCount    *int       `json:"correct_count,omitempty"`
}

// Deadline is the authoritative expiry instant: started_at + duration.
func (a *Attempt) Deadline() time.Time {
	return a.StartedAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Finalized reports whether the attempt reached its terminal state.
func (a *Attempt) Finalized() bool {
	return a.FinalizedAt != nil
}

// StateAt derives the lifecycle state at the given instant. Expiry is a
// function of time, not of any explicit transition.
func (a *Attempt) StateAt(now time.Time) AttemptState {
	switch {
	case a.Finalized():
		return AttemptStateFinalized
	case !now.Before(a.Deadline()):
		return AttemptStateExpired
	default:
		return AttemptStateInProgress
	}
}

// RemainingAt returns the remaining time at the given instant, floored at zero.
func (a *Attempt) RemainingAt(now time.Time) time.Duration {
	remaining := a.Deadline().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AnswerEntry is one submitted answer. OptionID may be the unanswered
// sentinel (all-zero UUID); the entry must still be present.
type AnswerEntry struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	OptionID   uuid.UUID `json:"option_id"`
}

// SubmitAnswersRequest is the payload for finalizing an attempt. Answers
// fully replace any previous state; they are not merged.
type SubmitAnswersRequest struct {
	Answers []AnswerEntry `json:"answers" binding:"required,min=1,dive"`
}

// AttemptResult is returned once, at finalization.
type AttemptResult struct {
	Message        string  `json:"message"`
	CorrectCount   int     `json:"correct_count"`
	TotalQuestions int     `json:"total_questions"`
	Score          float64 `json:"score"`
}

// AttemptOverview is one row of a student's attempts listing, with the
// derived lock state so clients can grey out exams that can no longer be
// entered.
type AttemptOverview struct {
	ExamID    uuid.UUID    `json:"exam_id"`
	ExamTitle string       `json:"exam_title"`
	StartedAt time.Time    `json:"started_at"`
	State     AttemptState `json:"state"`
	Score     *float64     `json:"score,omitempty"`
}
