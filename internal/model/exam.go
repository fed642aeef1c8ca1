package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam represents an exam definition. It is immutable once any attempt
// against it has started.
type Exam struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
}

// Duration returns the configured exam duration.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// ExamContent is the student-safe exam payload: ordered questions and
// options with every correct-answer marker stripped. This is what gets
// cached in Redis and served to exam takers.
type ExamContent struct {
	ExamID          uuid.UUID            `json:"exam_id"`
	Title           string               `json:"title"`
	DurationMinutes int                  `json:"duration_minutes"`
	Questions       []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question without the correct-option flag.
type QuestionForStudent struct {
	ID       uuid.UUID          `json:"id"`
	Prompt   string             `json:"prompt,omitempty"`
	ImageURL *string            `json:"image_url,omitempty"`
	OrderNum int                `json:"order_num"`
	Options  []OptionForStudent `json:"options"`
}

// OptionForStudent is a selectable option label.
type OptionForStudent struct {
	ID       uuid.UUID `json:"id"`
	Label    string    `json:"label"`
	OrderNum int       `json:"order_num"`
}
