package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulanet/aulatiempo-backend/internal/model"
)

// AttemptRepository handles attempt data access. The attempts table is the
// single owner of attempt state; started_at and finalized_at are each
// written exactly once.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Get retrieves the attempt for an exam-student pair, with the exam's
// duration joined in so the deadline can be derived.
func (r *AttemptRepository) Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT a.exam_id, a.student_id, a.started_at, e.duration_minutes,
		        a.finalized_at, a.score, a.correct_count
		 FROM attempts a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.exam_id = $1 AND a.student_id = $2`, examID, studentID,
	).Scan(&a.ExamID, &a.StudentID, &a.StartedAt, &a.DurationMinutes,
		&a.FinalizedAt, &a.Score, &a.CorrectCount)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new attempt row. The ON CONFLICT DO NOTHING clause makes
// concurrent starts race-safe: the loser gets pgx.ErrNoRows and must refetch
// the winner's row, so started_at is never reset.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, student_id)
		 VALUES ($1, $2)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING started_at`,
		a.ExamID, a.StudentID,
	).Scan(&a.StartedAt)
}

// Finalize writes score, correct count, and the full answer map in one
// conditional update. The finalized_at IS NULL guard makes it a compare-and-
// set: exactly one caller wins, everyone else sees false.
func (r *AttemptRepository) Finalize(ctx context.Context, examID uuid.UUID, studentID int, score float64, correctCount int, answers []model.AnswerEntry, finalizedAt time.Time) (bool, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return false, fmt.Errorf("marshal answers: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET finalized_at = $1, score = $2, correct_count = $3, answers = $4
		 WHERE exam_id = $5 AND student_id = $6 AND finalized_at IS NULL`,
		finalizedAt, score, correctCount, raw, examID, studentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByStudent retrieves all attempts for a student, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.exam_id, a.student_id, a.started_at, e.duration_minutes,
		        a.finalized_at, a.score, a.correct_count
		 FROM attempts a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.student_id = $1
		 ORDER BY a.started_at DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ExamID, &a.StudentID, &a.StartedAt, &a.DurationMinutes,
			&a.FinalizedAt, &a.Score, &a.CorrectCount); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
