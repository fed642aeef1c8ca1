package worker

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aulanet/aulatiempo-backend/internal/config"
)

// ExpiryWorker closes attempts whose deadline passed more than the grace
// window ago without a finalize call: crashed clients, closed laptops,
// dead tabs. It scores from the Redis autosave buffer (an empty buffer
// scores zero correct) and writes the same single-winner conditional
// update the synchronous path uses, so it can never double-finalize an
// attempt a late client just submitted.
type ExpiryWorker struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	grace    time.Duration
	interval time.Duration
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(pool *pgxpool.Pool, rdb *redis.Client, grace, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		pool:     pool,
		rdb:      rdb,
		grace:    grace,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

type staleAttempt struct {
	ExamID    uuid.UUID
	StudentID int
}

// Start runs the sweep loop until the context is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().
		Dur("grace", w.grace).
		Dur("interval", w.interval).
		Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Sweep failed")
			}
		}
	}
}

// sweep finds stale attempts, grades them from the autosave buffer, and
// closes them in one bulk conditional update.
func (w *ExpiryWorker) sweep(ctx context.Context) error {
	stale, err := w.findStale(ctx)
	if err != nil || len(stale) == 0 {
		return err
	}

	w.log.Info().Int("count", len(stale)).Msg("Closing stale attempts")

	// Answer keys are fetched once per exam per sweep.
	answerKeys := make(map[uuid.UUID]map[string]string)

	examIDs := make([]uuid.UUID, 0, len(stale))
	students := make([]int, 0, len(stale))
	scores := make([]float64, 0, len(stale))
	corrects := make([]int, 0, len(stale))

	for _, s := range stale {
		key, ok := answerKeys[s.ExamID]
		if !ok {
			key, err = w.loadAnswerKey(ctx, s.ExamID)
			if err != nil {
				w.log.Error().Err(err).Str("exam_id", s.ExamID.String()).Msg("Load answer key failed")
				continue
			}
			answerKeys[s.ExamID] = key
		}

		buffered, err := w.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(s.ExamID.String(), s.StudentID)).Result()
		if err != nil {
			// Treat a broken buffer read as an empty submission; the
			// attempt still has to close.
			w.log.Warn().Err(err).Int("student_id", s.StudentID).Msg("Autosave buffer read failed")
			buffered = nil
		}

		correct := 0
		for qID, correctOption := range key {
			if chosen, ok := buffered[qID]; ok && chosen == correctOption {
				correct++
			}
		}

		var score float64
		if len(key) > 0 {
			score = math.Round(float64(correct)/float64(len(key))*100*100) / 100
		}

		examIDs = append(examIDs, s.ExamID)
		students = append(students, s.StudentID)
		scores = append(scores, score)
		corrects = append(corrects, correct)
	}

	if len(examIDs) == 0 {
		return nil
	}

	if err := w.bulkClose(ctx, examIDs, students, scores, corrects); err != nil {
		return err
	}

	w.clearBuffers(ctx, examIDs, students)
	return nil
}

func (w *ExpiryWorker) findStale(ctx context.Context) ([]staleAttempt, error) {
	rows, err := w.pool.Query(ctx,
		`SELECT a.exam_id, a.student_id
		 FROM attempts a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.finalized_at IS NULL
		   AND a.started_at + make_interval(mins => e.duration_minutes) + $1::interval < NOW()`,
		w.grace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []staleAttempt
	for rows.Next() {
		var s staleAttempt
		if err := rows.Scan(&s.ExamID, &s.StudentID); err != nil {
			return nil, err
		}
		stale = append(stale, s)
	}
	return stale, rows.Err()
}

func (w *ExpiryWorker) loadAnswerKey(ctx context.Context, examID uuid.UUID) (map[string]string, error) {
	rows, err := w.pool.Query(ctx,
		`SELECT q.id, o.id
		 FROM questions q
		 JOIN options o ON o.question_id = q.id AND o.is_correct
		 WHERE q.exam_id = $1`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key := make(map[string]string)
	for rows.Next() {
		var qID, oID uuid.UUID
		if err := rows.Scan(&qID, &oID); err != nil {
			return nil, err
		}
		key[qID.String()] = oID.String()
	}
	return key, rows.Err()
}

// bulkClose finalizes the batch with UNNEST. The finalized_at IS NULL guard
// keeps the single-winner invariant against concurrent late submits.
func (w *ExpiryWorker) bulkClose(ctx context.Context, examIDs []uuid.UUID, students []int, scores []float64, corrects []int) error {
	query := `
		UPDATE attempts AS a
		SET finalized_at = NOW(),
		    score = t.score,
		    correct_count = t.correct_count,
		    answers = '[]'::jsonb
		FROM (
			SELECT
				u.exam_id,
				u.student_id,
				u.score,
				u.correct_count
			FROM UNNEST(
				$1::uuid[],
				$2::int[],
				$3::float8[],
				$4::int[]
			) AS u (exam_id, student_id, score, correct_count)
		) AS t
		WHERE a.exam_id = t.exam_id
		  AND a.student_id = t.student_id
		  AND a.finalized_at IS NULL
	`

	_, err := w.pool.Exec(ctx, query, examIDs, students, scores, corrects)
	return err
}

// clearBuffers drops the autosave buffers and sets finalized markers for
// the closed attempts.
func (w *ExpiryWorker) clearBuffers(ctx context.Context, examIDs []uuid.UUID, students []int) {
	pipe := w.rdb.Pipeline()

	for i := range examIDs {
		examID := examIDs[i].String()
		pipe.Del(ctx,
			config.CacheKey.AttemptAnswersKey(examID, students[i]),
			config.CacheKey.AttemptStartKey(examID, students[i]),
		)
		pipe.Set(ctx, config.CacheKey.AttemptFinalizedKey(examID, students[i]), 1, 24*time.Hour)
	}

	_, _ = pipe.Exec(ctx)
}
