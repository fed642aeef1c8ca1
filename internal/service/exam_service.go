package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aulanet/aulatiempo-backend/internal/config"
	"github.com/aulanet/aulatiempo-backend/internal/model"
)

// ExamService serves student-safe exam content. Content is cached in Redis
// as a serialized payload so the thundering herd at exam start bypasses
// Postgres. A nil Redis client disables the cache (used by tests).
type ExamService struct {
	exams ExamStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams: exams,
		rdb:   rdb,
		log:   log.With().Str("component", "exam_service").Logger(),
	}
}

// GetContent returns an exam's questions and options with correct-answer
// markers stripped. Redis first, Postgres on miss, self-heal after.
func (s *ExamService) GetContent(ctx context.Context, examID uuid.UUID) (*model.ExamContent, error) {
	contentKey := config.CacheKey.ExamContentKey(examID.String())

	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, contentKey).Result()
		if err == nil {
			var content model.ExamContent
			if jsonErr := json.Unmarshal([]byte(raw), &content); jsonErr == nil {
				return &content, nil
			}
			// Corrupt cache entry; fall through and rebuild it.
		} else if !errors.Is(err, redis.Nil) {
			s.log.Debug().Err(err).Msg("content cache read failed, falling back")
		}
	}

	content, err := s.exams.GetContent(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam content: %w", err)
	}

	s.cacheContent(ctx, contentKey, content)
	return content, nil
}

// Prewarm loads the content payloads for the given exams into Redis before
// traffic arrives, so lazy loading cannot race at exam start.
func (s *ExamService) Prewarm(ctx context.Context, examIDs []uuid.UUID) error {
	for _, id := range examIDs {
		content, err := s.exams.GetContent(ctx, id)
		if err != nil {
			return fmt.Errorf("prewarm exam %s: %w", id, err)
		}
		s.cacheContent(ctx, config.CacheKey.ExamContentKey(id.String()), content)
	}
	return nil
}

func (s *ExamService) cacheContent(ctx context.Context, key string, content *model.ExamContent) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("content cache write failed")
	}
}
