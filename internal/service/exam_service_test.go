package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aulanet/aulatiempo-backend/internal/model"
)

func TestGetContentUnknownExam(t *testing.T) {
	svc := NewExamService(newFakeExamStore(), nil, zerolog.Nop())

	_, err := svc.GetContent(context.Background(), uuid.New())
	if err != ErrExamNotFound {
		t.Fatalf("err = %v, want ErrExamNotFound", err)
	}
}

func TestPrewarmLoadsEveryExam(t *testing.T) {
	exams := newFakeExamStore()
	a, b := uuid.New(), uuid.New()
	exams.content[a] = &model.ExamContent{ExamID: a, Title: "Historia", DurationMinutes: 30}
	exams.content[b] = &model.ExamContent{ExamID: b, Title: "Geografía", DurationMinutes: 45}
	svc := NewExamService(exams, nil, zerolog.Nop())

	if err := svc.Prewarm(context.Background(), []uuid.UUID{a, b}); err != nil {
		t.Fatalf("Prewarm: %v", err)
	}
}

func TestPrewarmSurfacesMissingExam(t *testing.T) {
	svc := NewExamService(newFakeExamStore(), nil, zerolog.Nop())

	if err := svc.Prewarm(context.Background(), []uuid.UUID{uuid.New()}); err == nil {
		t.Fatal("expected error for unknown exam")
	}
}
