package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/aulanet/aulatiempo-backend/internal/auth"
	"github.com/aulanet/aulatiempo-backend/internal/config"
	"github.com/aulanet/aulatiempo-backend/internal/database"
	"github.com/aulanet/aulatiempo-backend/internal/logger"
)

// seed-demo provisions one demo student and one 30 minute exam with four
// questions, then prints a signed student token ready to paste into the CLI
// or a curl header.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	fmt.Println("=== Seeding demo student and exam ===")

	const (
		demoEmail    = "demo@aulanet.test"
		demoPassword = "aulanet-demo"
	)

	var studentID int
	err = pool.QueryRow(ctx, "SELECT id FROM students WHERE email = $1", demoEmail).Scan(&studentID)
	if err != nil {
		if err != pgx.ErrNoRows {
			log.Fatal().Err(err).Msg("Failed to check existing student")
		}
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(demoPassword), bcrypt.DefaultCost)
		if hashErr != nil {
			log.Fatal().Err(hashErr).Msg("Failed to hash password")
		}
		err = pool.QueryRow(ctx,
			"INSERT INTO students (name, email, password_hash) VALUES ($1, $2, $3) RETURNING id",
			"Estudiante Demo", demoEmail, string(hash),
		).Scan(&studentID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create student")
		}
		fmt.Printf("Created student %d (%s / %s)\n", studentID, demoEmail, demoPassword)
	} else {
		fmt.Printf("Found existing student %d\n", studentID)
	}

	examID, err := seedExam(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed exam")
	}
	fmt.Printf("Exam ready: %s\n", examID)

	token, err := auth.NewService(cfg).MintStudentToken(studentID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to mint token")
	}

	fmt.Println("\nStudent token:")
	fmt.Println(token)
	fmt.Printf("\nTry: examcli -exam %s -token <token>\n", examID)
}

type seedQuestion struct {
	prompt  string
	options []string
	correct int
}

func seedExam(ctx context.Context, pool *pgxpool.Pool) (uuid.UUID, error) {
	const title = "Examen de demostración"

	var examID uuid.UUID
	err := pool.QueryRow(ctx, "SELECT id FROM exams WHERE title = $1", title).Scan(&examID)
	if err == nil {
		return examID, nil
	}
	if err != pgx.ErrNoRows {
		return uuid.Nil, err
	}

	questions := []seedQuestion{
		{"¿Cuál es la capital de Francia?", []string{"Madrid", "París", "Roma", "Berlín"}, 1},
		{"¿Cuánto es 7 x 8?", []string{"54", "56", "63", "48"}, 1},
		{"¿En qué año llegó el ser humano a la Luna?", []string{"1965", "1969", "1972", "1959"}, 1},
		{"¿Qué gas respiramos principalmente?", []string{"Oxígeno", "Hidrógeno", "Nitrógeno", "Dióxido de carbono"}, 2},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		"INSERT INTO exams (title, duration_minutes) VALUES ($1, $2) RETURNING id",
		title, 30,
	).Scan(&examID)
	if err != nil {
		return uuid.Nil, err
	}

	for qi, q := range questions {
		var questionID uuid.UUID
		err = tx.QueryRow(ctx,
			"INSERT INTO questions (exam_id, prompt, order_num) VALUES ($1, $2, $3) RETURNING id",
			examID, q.prompt, qi+1,
		).Scan(&questionID)
		if err != nil {
			return uuid.Nil, err
		}
		for oi, label := range q.options {
			_, err = tx.Exec(ctx,
				"INSERT INTO options (question_id, label, order_num, is_correct) VALUES ($1, $2, $3, $4)",
				questionID, label, oi+1, oi == q.correct,
			)
			if err != nil {
				return uuid.Nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return examID, nil
}
