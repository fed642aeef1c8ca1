package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulanet/aulatiempo-backend/internal/model"
)

// ExamRepository handles exam and question data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves a single exam definition.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, created_at
		 FROM exams
		 WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListIDs returns the ids of every exam, used at startup to prewarm the
// content cache.
func (r *ExamRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM exams`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetContent retrieves the student-safe exam payload: ordered questions
// with ordered options, correct-answer flags stripped.
func (r *ExamRepository) GetContent(ctx context.Context, id uuid.UUID) (*model.ExamContent, error) {
	exam, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.prompt, q.image_url, q.order_num,
		        o.id, o.label, o.order_num
		 FROM questions q
		 JOIN options o ON o.question_id = q.id
		 WHERE q.exam_id = $1
		 ORDER BY q.order_num ASC, o.order_num ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	content := &model.ExamContent{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
	}

	var current *model.QuestionForStudent
	for rows.Next() {
		var (
			q model.QuestionForStudent
			o model.OptionForStudent
		)
		if err := rows.Scan(&q.ID, &q.Prompt, &q.ImageURL, &q.OrderNum, &o.ID, &o.Label, &o.OrderNum); err != nil {
			return nil, err
		}
		if current == nil || current.ID != q.ID {
			content.Questions = append(content.Questions, q)
			current = &content.Questions[len(content.Questions)-1]
		}
		current.Options = append(current.Options, o)
	}
	return content, rows.Err()
}

// GetAnswerKey retrieves the correct option per question for an exam.
func (r *ExamRepository) GetAnswerKey(ctx context.Context, id uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, o.id
		 FROM questions q
		 JOIN options o ON o.question_id = q.id AND o.is_correct
		 WHERE q.exam_id = $1`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key := make(map[uuid.UUID]uuid.UUID)
	for rows.Next() {
		var qID, oID uuid.UUID
		if err := rows.Scan(&qID, &oID); err != nil {
			return nil, err
		}
		key[qID] = oID
	}
	return key, rows.Err()
}
