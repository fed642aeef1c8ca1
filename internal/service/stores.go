package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aulanet/aulatiempo-backend/internal/model"
)

// ExamStore is the exam data access the services need. Implemented by
// repository.ExamRepository; missing rows surface as pgx.ErrNoRows.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetContent(ctx context.Context, id uuid.UUID) (*model.ExamContent, error)
	GetAnswerKey(ctx context.Context, id uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
}

// AttemptStore is the attempt data access the services need. Implemented by
// repository.AttemptRepository.
type AttemptStore interface {
	Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error)
	Create(ctx context.Context, a *model.Attempt) error
	Finalize(ctx context.Context, examID uuid.UUID, studentID int, score float64, correctCount int, answers []model.AnswerEntry, finalizedAt time.Time) (bool, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error)
}

// ClockCache is the Redis fast path for attempt clocks. Implemented by
// repository.AttemptCache. All methods are best-effort from the caller's
// point of view: a miss or error falls back to the AttemptStore.
type ClockCache interface {
	GetStart(ctx context.Context, examID uuid.UUID, studentID int) (time.Time, bool, error)
	SetStart(ctx context.Context, examID uuid.UUID, studentID int, startedAt time.Time) error
	GetDuration(ctx context.Context, examID uuid.UUID) (int, bool, error)
	SetDuration(ctx context.Context, examID uuid.UUID, minutes int) error
	IsFinalized(ctx context.Context, examID uuid.UUID, studentID int) (bool, error)
	MarkFinalized(ctx context.Context, examID uuid.UUID, studentID int) error
	SaveAnswer(ctx context.Context, examID uuid.UUID, studentID int, questionID, optionID uuid.UUID) error
}
