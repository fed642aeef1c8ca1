// Package examclient drives a single timed exam attempt from the taker's
// side: loading content, counting down against the server clock, collecting
// answers, and finalizing exactly once. The server stays the source of
// truth for time; everything here is display state that reconciles to it.
package examclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Domain error codes the backend can return. Transport failures are plain
// wrapped errors, never DomainError.
const (
	CodeExamNotFound     = "EXAM_NOT_FOUND"
	CodeNotStarted       = "ATTEMPT_NOT_STARTED"
	CodeAlreadyFinalized = "ATTEMPT_ALREADY_FINALIZED"
	CodeExpired          = "ATTEMPT_EXPIRED"
)

// DomainError is a backend-rejected operation: the request arrived, the
// server said no. Retrying it will not help, unlike a transport error.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsDomain extracts the domain error code, if any.
func AsDomain(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ExamContent is the exam as served to takers: no correct-answer markers.
type ExamContent struct {
	ExamID          uuid.UUID  `json:"exam_id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	Questions       []Question `json:"questions"`
}

// Question is one prompt with its ordered options.
type Question struct {
	ID       uuid.UUID `json:"id"`
	Prompt   string    `json:"prompt,omitempty"`
	ImageURL *string   `json:"image_url,omitempty"`
	OrderNum int       `json:"order_num"`
	Options  []Option  `json:"options"`
}

// Option is a selectable answer.
type Option struct {
	ID       uuid.UUID `json:"id"`
	Label    string    `json:"label"`
	OrderNum int       `json:"order_num"`
}

// StartResult is the server's answer to a start call. A repeat start
// returns the same instants, never fresh ones.
type StartResult struct {
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// Clock is one reconciliation sample from the server.
type Clock struct {
	RemainingSeconds   int    `json:"remaining_seconds"`
	RemainingFormatted string `json:"remaining_formatted"`
	State              string `json:"state"`
	Finalized          bool   `json:"finalized"`
}

// Answer is one submitted entry. OptionID uuid.Nil marks an unanswered
// question; the entry is still sent.
type Answer struct {
	QuestionID uuid.UUID `json:"question_id"`
	OptionID   uuid.UUID `json:"option_id"`
}

// SubmitResult is the server-computed outcome of finalization.
type SubmitResult struct {
	Message        string  `json:"message"`
	CorrectCount   int     `json:"correct_count"`
	TotalQuestions int     `json:"total_questions"`
	Score          float64 `json:"score"`
}

// Gateway is the remote contract the session depends on. Implementations
// must return *DomainError for backend rejections and plain errors for
// transport failures.
type Gateway interface {
	FetchExamContent(ctx context.Context, examID uuid.UUID) (*ExamContent, error)
	StartAttempt(ctx context.Context, examID uuid.UUID) (*StartResult, error)
	PollRemaining(ctx context.Context, examID uuid.UUID) (*Clock, error)
	SubmitAnswers(ctx context.Context, examID uuid.UUID, answers []Answer) (*SubmitResult, error)
}
