package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aulanet/aulatiempo-backend/internal/auth"
	"github.com/aulanet/aulatiempo-backend/internal/config"
	"github.com/aulanet/aulatiempo-backend/internal/database"
	"github.com/aulanet/aulatiempo-backend/internal/handler"
	"github.com/aulanet/aulatiempo-backend/internal/logger"
	"github.com/aulanet/aulatiempo-backend/internal/repository"
	"github.com/aulanet/aulatiempo-backend/internal/router"
	"github.com/aulanet/aulatiempo-backend/internal/service"
	"github.com/aulanet/aulatiempo-backend/internal/validator"
	"github.com/aulanet/aulatiempo-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Aulatiempo Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	attemptCache := repository.NewAttemptCache(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := auth.NewService(cfg)
	examService := service.NewExamService(examRepo, rdb, log)
	attemptService := service.NewAttemptService(attemptRepo, examRepo, attemptCache, cfg.FinalizeGrace, log)
	clockService := service.NewClockService(attemptRepo, examRepo, attemptCache, log)

	// ─── Prewarm Exam Content Cache ───────────────────────────────────
	if ids, err := examRepo.ListIDs(ctx); err != nil {
		log.Warn().Err(err).Msg("Listing exams for prewarm failed")
	} else if err := examService.Prewarm(ctx, ids); err != nil {
		log.Warn().Err(err).Msg("Exam content prewarm failed")
	} else {
		log.Info().Int("exams", len(ids)).Msg("Exam content prewarmed")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentExam: handler.NewStudentExamHandler(examService, attemptService, clockService),
		WS:          handler.NewWSHandler(clockService, attemptService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	expiryWorker := worker.NewExpiryWorker(pool, rdb, cfg.FinalizeGrace, cfg.ExpirySweepInterval, log)
	go expiryWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the worker; a sweep in flight finishes against the parent
	// context it already holds.
	workerCancel()

	log.Info().Msg("Shutdown complete")
}
