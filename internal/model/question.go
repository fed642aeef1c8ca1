package model

import (
	"github.com/google/uuid"
)

// Question is the full server-side question row, correct option included.
// Never serialize this type to an exam taker; use QuestionForStudent.
type Question struct {
	ID       uuid.UUID `json:"id"`
	ExamID   uuid.UUID `json:"exam_id"`
	Prompt   string    `json:"prompt"`
	ImageURL *string   `json:"image_url,omitempty"`
	OrderNum int       `json:"order_num"`
	Options  []Option  `json:"options"`
}

// Option is a full server-side option row.
type Option struct {
	ID         uuid.UUID `json:"id"`
	QuestionID uuid.UUID `json:"question_id"`
	Label      string    `json:"label"`
	IsCorrect  bool      `json:"is_correct"`
	OrderNum   int       `json:"order_num"`
}
