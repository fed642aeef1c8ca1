package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aulanet/aulatiempo-backend/internal/config"
)

// finalizedMarkerTTL bounds how long the finalized flag lives in Redis.
// After it lapses, readers fall back to Postgres, which holds the truth.
const finalizedMarkerTTL = 24 * time.Hour

// AttemptCache is the Redis-backed fast path for the attempt clock. Every
// value it holds is a copy of Postgres state; a cache miss is never an
// error, only a reason to fall back.
type AttemptCache struct {
	rdb *redis.Client
}

// NewAttemptCache creates a new AttemptCache.
func NewAttemptCache(rdb *redis.Client) *AttemptCache {
	return &AttemptCache{rdb: rdb}
}

// GetStart returns the cached start instant of an attempt. The second
// return value reports whether the key was present.
func (c *AttemptCache) GetStart(ctx context.Context, examID uuid.UUID, studentID int) (time.Time, bool, error) {
	val, err := c.rdb.Get(ctx, config.CacheKey.AttemptStartKey(examID.String(), studentID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Corrupt entry: treat as a miss so the DB fallback self-heals it.
		return time.Time{}, false, nil
	}
	return time.Unix(unix, 0), true, nil
}

// SetStart caches the start instant. Stored as a Unix timestamp so DB and
// cache agree to the second.
func (c *AttemptCache) SetStart(ctx context.Context, examID uuid.UUID, studentID int, startedAt time.Time) error {
	return c.rdb.Set(ctx, config.CacheKey.AttemptStartKey(examID.String(), studentID), startedAt.Unix(), 0).Err()
}

// GetDuration returns the cached exam duration in minutes.
func (c *AttemptCache) GetDuration(ctx context.Context, examID uuid.UUID) (int, bool, error) {
	val, err := c.rdb.Get(ctx, config.CacheKey.ExamDurationKey(examID.String())).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	minutes, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, nil
	}
	return minutes, true, nil
}

// SetDuration caches the exam duration in minutes.
func (c *AttemptCache) SetDuration(ctx context.Context, examID uuid.UUID, minutes int) error {
	return c.rdb.Set(ctx, config.CacheKey.ExamDurationKey(examID.String()), minutes, 0).Err()
}

// IsFinalized reports whether the finalized marker is set for an attempt.
func (c *AttemptCache) IsFinalized(ctx context.Context, examID uuid.UUID, studentID int) (bool, error) {
	n, err := c.rdb.Exists(ctx, config.CacheKey.AttemptFinalizedKey(examID.String(), studentID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFinalized sets the finalized marker and drops the keys that no longer
// matter for a closed attempt (start time, autosave buffer).
func (c *AttemptCache) MarkFinalized(ctx context.Context, examID uuid.UUID, studentID int) error {
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AttemptFinalizedKey(examID.String(), studentID), 1, finalizedMarkerTTL)
	pipe.Del(ctx,
		config.CacheKey.AttemptStartKey(examID.String(), studentID),
		config.CacheKey.AttemptAnswersKey(examID.String(), studentID),
	)
	_, err := pipe.Exec(ctx)
	return err
}

// SaveAnswer writes one autosaved answer into the attempt's crash-recovery
// buffer. Best-effort; the buffer only matters if the client never submits.
func (c *AttemptCache) SaveAnswer(ctx context.Context, examID uuid.UUID, studentID int, questionID, optionID uuid.UUID) error {
	key := config.CacheKey.AttemptAnswersKey(examID.String(), studentID)
	return c.rdb.HSet(ctx, key, questionID.String(), optionID.String()).Err()
}
