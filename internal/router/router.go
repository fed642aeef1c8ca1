package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/aulanet/aulatiempo-backend/internal/auth"
	"github.com/aulanet/aulatiempo-backend/internal/config"
	"github.com/aulanet/aulatiempo-backend/internal/handler"
	"github.com/aulanet/aulatiempo-backend/internal/middleware"
	"github.com/aulanet/aulatiempo-backend/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentExam *handler.StudentExamHandler
	WS          *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *auth.Service,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Exam takers poll the clock at 1 Hz, so the limit leaves headroom
	// above that per device.
	studentLimiter := middleware.NewRateLimiter(300, time.Minute)

	// ─── Student Group (JWT) ───────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		studentLimiter.Middleware(),
	)
	{
		studentAPI.GET("/attempts", handlers.StudentExam.GetAttempts)
		studentAPI.GET("/exams/:exam_id", handlers.StudentExam.GetExamContent)
		studentAPI.POST("/exams/:exam_id/start", handlers.StudentExam.StartAttempt)
		studentAPI.GET("/exams/:exam_id/clock", handlers.StudentExam.GetClock)
		studentAPI.POST("/exams/:exam_id/answers", handlers.StudentExam.SubmitAnswers)
	}

	// ─── WebSocket Group (Student WS Auth) ─────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/exams/:exam_id/clock", handlers.WS.ExamClockStream)
	}

	return router
}
