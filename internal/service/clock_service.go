package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/aulanet/aulatiempo-backend/internal/model"
)

// RemainingClock is the authoritative answer to "how much time is left".
// Every client countdown must periodically reconcile against it; the
// reverse direction never happens.
type RemainingClock struct {
	ExamID             uuid.UUID          `json:"exam_id"`
	StudentID          int                `json:"student_id"`
	Deadline           time.Time          `json:"deadline"`
	RemainingSeconds   int                `json:"remaining_seconds"`
	RemainingFormatted string             `json:"remaining_formatted"`
	State              model.AttemptState `json:"state"`
	Finalized          bool               `json:"finalized"`
}

// ClockService computes remaining time from the persisted start timestamp
// and the exam's configured duration. It is a pure read: no call here ever
// mutates attempt state.
type ClockService struct {
	attempts AttemptStore
	exams    ExamStore
	cache    ClockCache
	now      func() time.Time
	log      zerolog.Logger
}

// NewClockService creates a new ClockService.
func NewClockService(attempts AttemptStore, exams ExamStore, cache ClockCache, log zerolog.Logger) *ClockService {
	return &ClockService{
		attempts: attempts,
		exams:    exams,
		cache:    cache,
		now:      time.Now,
		log:      log.With().Str("component", "clock_service").Logger(),
	}
}

// ComputeRemaining returns the remaining clock for an attempt, or
// ErrNotStarted when no attempt exists for the pair. Reads go through the
// Redis fast path with a Postgres fallback that self-heals the cache, so a
// cache eviction can slow a poll down but never change its answer.
func (s *ClockService) ComputeRemaining(ctx context.Context, studentID int, examID uuid.UUID) (*RemainingClock, error) {
	finalized, err := s.cache.IsFinalized(ctx, examID, studentID)
	if err != nil {
		s.log.Debug().Err(err).Msg("finalized marker read failed, falling back")
		finalized = false
	}

	var (
		startedAt    time.Time
		duration     int
		haveStart    bool
		haveDuration bool
	)

	if !finalized {
		// MarkFinalized deletes the start key in the same pipeline that sets
		// the marker, so a present start key implies a live attempt. This
		// keeps the 1 Hz poll path off Postgres entirely.
		startedAt, haveStart, err = s.cache.GetStart(ctx, examID, studentID)
		if err != nil {
			s.log.Debug().Err(err).Msg("start cache read failed, falling back")
			haveStart = false
		}

		duration, haveDuration, err = s.cache.GetDuration(ctx, examID)
		if err != nil {
			s.log.Debug().Err(err).Msg("duration cache read failed, falling back")
			haveDuration = false
		}
	}

	if !haveStart || !haveDuration {
		// Cache miss (eviction, restart, finalized marker, legacy attempt).
		// The attempt row is the source of truth.
		attempt, dbErr := s.attempts.Get(ctx, examID, studentID)
		if dbErr != nil {
			if errors.Is(dbErr, pgx.ErrNoRows) {
				return nil, ErrNotStarted
			}
			return nil, fmt.Errorf("get attempt: %w", dbErr)
		}

		// The cache stores starts at whole-second precision; the fallback
		// must round the same way, or an eviction between two polls could
		// make remaining_seconds tick up.
		startedAt = attempt.StartedAt.Truncate(time.Second)
		duration = attempt.DurationMinutes
		finalized = attempt.Finalized()

		// Self-heal so the next poll is a pure cache hit. Closed attempts
		// stay out of the cache; their marker already answers for them.
		if !finalized {
			if err := s.cache.SetStart(ctx, examID, studentID, startedAt); err != nil {
				s.log.Debug().Err(err).Msg("start cache self-heal failed")
			}
			if err := s.cache.SetDuration(ctx, examID, duration); err != nil {
				s.log.Debug().Err(err).Msg("duration cache self-heal failed")
			}
		}
	}

	now := s.now()
	deadline := startedAt.Add(time.Duration(duration) * time.Minute)
	remaining := deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	state := model.AttemptStateInProgress
	switch {
	case finalized:
		state = model.AttemptStateFinalized
	case remaining == 0:
		// Expiry is a function of time alone, reported even before any
		// finalize call has happened.
		state = model.AttemptStateExpired
	}

	seconds := int(remaining / time.Second)
	return &RemainingClock{
		ExamID:             examID,
		StudentID:          studentID,
		Deadline:           deadline,
		RemainingSeconds:   seconds,
		RemainingFormatted: FormatClock(seconds),
		State:              state,
		Finalized:          finalized,
	}, nil
}

// FormatClock renders seconds as HH:MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
