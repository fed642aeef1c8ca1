package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptStartKey returns the cache key for an attempt's authoritative start time.
func (r *CacheKeyStruct) AttemptStartKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:attempt_start", studentID, examID)
}

// AttemptFinalizedKey returns the cache key marking an attempt as finalized.
func (r *CacheKeyStruct) AttemptFinalizedKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:attempt_finalized", studentID, examID)
}

// AttemptAnswersKey returns the cache key for an attempt's autosaved answers.
func (r *CacheKeyStruct) AttemptAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// ExamContentKey returns the cache key for an exam's student-safe content payload.
func (r *CacheKeyStruct) ExamContentKey(examID string) string {
	return fmt.Sprintf("exam:%s:content", examID)
}

// ExamDurationKey returns the cache key for an exam's duration in minutes.
func (r *CacheKeyStruct) ExamDurationKey(examID string) string {
	return fmt.Sprintf("exam:%s:duration", examID)
}

var CacheKey = NewCacheKeyStruct()
