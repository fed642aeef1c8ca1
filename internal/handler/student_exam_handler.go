package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aulanet/aulatiempo-backend/internal/middleware"
	"github.com/aulanet/aulatiempo-backend/internal/model"
	"github.com/aulanet/aulatiempo-backend/internal/response"
	"github.com/aulanet/aulatiempo-backend/internal/service"
	"github.com/aulanet/aulatiempo-backend/internal/validator"
)

// StudentExamHandler handles the student-facing exam-taking endpoints.
type StudentExamHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
	clockService   *service.ClockService
}

// NewStudentExamHandler creates a new StudentExamHandler.
func NewStudentExamHandler(
	examService *service.ExamService,
	attemptService *service.AttemptService,
	clockService *service.ClockService,
) *StudentExamHandler {
	return &StudentExamHandler{
		examService:    examService,
		attemptService: attemptService,
		clockService:   clockService,
	}
}

// GetExamContent godoc
// GET /api/v1/student/exams/:exam_id
// Returns the exam's questions and options without correct-answer markers.
func (h *StudentExamHandler) GetExamContent(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	content, err := h.examService.GetContent(c.Request.Context(), examID)
	if err != nil {
		failDomain(c, err)
		return
	}

	response.Success(c, http.StatusOK, content)
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/start
// Get-or-create: a repeat call before expiry returns the same started_at.
func (h *StudentExamHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), claims.StudentID, examID)
	if err != nil {
		failDomain(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attempt":  attempt,
		"deadline": attempt.Deadline(),
	})
}

// GetClock godoc
// GET /api/v1/student/exams/:exam_id/clock
// The server-computed remaining time; clients reconcile against this.
func (h *StudentExamHandler) GetClock(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	clock, err := h.clockService.ComputeRemaining(c.Request.Context(), claims.StudentID, examID)
	if err != nil {
		failDomain(c, err)
		return
	}

	response.Success(c, http.StatusOK, clock)
}

// SubmitAnswers godoc
// POST /api/v1/student/exams/:exam_id/answers
// Finalizes the attempt. The payload carries one entry per question; blank
// questions use the all-zero option id rather than being omitted.
func (h *StudentExamHandler) SubmitAnswers(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.Finalize(c.Request.Context(), claims.StudentID, examID, req.Answers)
	if err != nil {
		failDomain(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetAttempts godoc
// GET /api/v1/student/attempts
// The student's attempts with derived lock state, for the exam list screen.
func (h *StudentExamHandler) GetAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	overview, err := h.attemptService.Overview(c.Request.Context(), claims.StudentID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": overview})
}

// failDomain maps service domain errors to typed response codes. Unknown
// errors surface as 500s.
func failDomain(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	case errors.Is(err, service.ErrNotStarted):
		response.Fail(c, http.StatusConflict, response.ErrNotStarted)
	case errors.Is(err, service.ErrAlreadyFinalized):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyFinalized)
	case errors.Is(err, service.ErrExpired):
		response.Fail(c, http.StatusConflict, response.ErrExpired)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
