package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/aulanet/aulatiempo-backend/internal/config"
	"github.com/aulanet/aulatiempo-backend/internal/examclient"
	"github.com/aulanet/aulatiempo-backend/internal/logger"
)

// examcli is a terminal exam runner. It starts (or resumes) the attempt,
// keeps the countdown reconciled against the server, and submits once --
// either on command or automatically when the clock hits zero.
func main() {
	var (
		baseURL   = flag.String("server", "http://localhost:8080", "backend base URL")
		examIDArg = flag.String("exam", "", "exam id (uuid)")
		token     = flag.String("token", "", "student token")
		studentID = flag.Int("student", 0, "student id (for the local continuity file)")
		statePath = flag.String("state", defaultStatePath(), "continuity file path")
	)
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, "pretty")

	examID, err := uuid.Parse(*examIDArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "examcli: -exam must be a valid uuid")
		os.Exit(2)
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "examcli: -token is required")
		os.Exit(2)
	}

	store, err := examclient.NewFileStore(*statePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open continuity file")
	}

	if rec, remaining, ok := store.Load(); ok && rec.ExamID == examID {
		fmt.Printf("Reanudando intento (último tiempo conocido: %s)\n", examclient.FormatRemaining(remaining))
	}

	session := examclient.NewSession(examclient.Config{
		Gateway:   examclient.NewHTTPGateway(*baseURL, *token),
		Store:     store,
		Log:       log,
		StudentID: *studentID,
		ExamID:    examID,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := session.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load exam")
	}

	go session.Run(ctx)
	runPrompt(ctx, session)
	printOutcome(session)
}

// runPrompt reads commands from stdin until the session ends.
func runPrompt(ctx context.Context, session *examclient.Session) {
	scanner := bufio.NewScanner(os.Stdin)

	render(session)
	for session.Stage() != examclient.StageFinalized {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "n":
			session.Next()
		case line == "p":
			session.Prev()
		case line == "t":
			fmt.Printf("Tiempo restante: %s\n", examclient.FormatRemaining(session.Remaining()))
			continue
		case line == "enviar":
			if err := session.Submit(ctx); err != nil {
				if _, ok := examclient.AsDomain(err); !ok {
					fmt.Printf("No se pudo enviar (%v). Tus respuestas siguen guardadas; escribe 'enviar' para reintentar.\n", err)
				}
			}
			continue
		case line == "q":
			fmt.Println("Saliendo. El intento sigue abierto en el servidor.")
			return
		default:
			if choice, err := strconv.Atoi(line); err == nil {
				answer(session, choice)
			} else {
				fmt.Println("Comandos: 1-9 responder, n siguiente, p anterior, t tiempo, enviar, q salir")
				continue
			}
		}
		render(session)
	}
}

func answer(session *examclient.Session, choice int) {
	view := session.Snapshot()
	if view.Question == nil {
		return
	}
	if choice < 1 || choice > len(view.Question.Options) {
		fmt.Printf("Opción fuera de rango (1-%d)\n", len(view.Question.Options))
		return
	}
	session.Select(view.Question.ID, view.Question.Options[choice-1].ID)
}

func render(session *examclient.Session) {
	view := session.Snapshot()
	if view.Stage == examclient.StageFinalized {
		return
	}
	if view.Question == nil {
		return
	}

	fmt.Printf("\n[%s] %s — pregunta %d/%d\n",
		examclient.FormatRemaining(view.RemainingSeconds), view.Title, view.Index+1, view.QuestionCount)
	fmt.Printf("%s\n", view.Question.Prompt)
	for i, opt := range view.Question.Options {
		marker := " "
		if chosen, ok := session.Answered(view.Question.ID); ok && chosen == opt.ID {
			marker = "*"
		}
		fmt.Printf("  %d.%s %s\n", i+1, marker, opt.Label)
	}
}

func printOutcome(session *examclient.Session) {
	view := session.Snapshot()
	if view.Stage != examclient.StageFinalized {
		return
	}
	if view.Result != nil {
		fmt.Printf("\n%s\n", view.Result.Message)
		fmt.Printf("Correctas: %d/%d — Puntaje: %.2f\n",
			view.Result.CorrectCount, view.Result.TotalQuestions, view.Result.Score)
		return
	}
	switch view.TerminalState {
	case "EXPIRED":
		fmt.Println("\nEl tiempo del examen se agotó; el intento quedó cerrado.")
	default:
		fmt.Println("\nEl intento ya estaba finalizado.")
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".examcli-state.json"
	}
	return filepath.Join(home, ".examcli", "state.json")
}
