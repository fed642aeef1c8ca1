package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aulanet/aulatiempo-backend/internal/middleware"
	"github.com/aulanet/aulatiempo-backend/internal/model"
	"github.com/aulanet/aulatiempo-backend/internal/service"
	ws "github.com/aulanet/aulatiempo-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the attempt clock over WebSocket and accepts autosave
// events. The stream is a push variant of the clock endpoint: same numbers,
// no polling. It never mutates attempt state beyond the autosave buffer.
type WSHandler struct {
	clockService   *service.ClockService
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(clockService *service.ClockService, attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		clockService:   clockService,
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamClockStream godoc
// WS /ws/v1/student/exams/:exam_id/clock
// Pushes a tick event every second until the attempt finalizes or expires,
// then pushes one terminal event and closes.
func (h *WSHandler) ExamClockStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.StudentID

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	// Gorilla conns allow one concurrent writer; the tick loop and the
	// autosave acks share this mutex.
	var writeMu sync.Mutex

	clock, err := h.clockService.ComputeRemaining(c.Request.Context(), studentID, examID)
	if err != nil {
		ws.WriteError(conn, "no attempt for this exam")
		return
	}
	if h.pushClock(conn, &writeMu, clock) {
		return
	}

	wsLog.Info().Msg("Clock stream connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go h.readLoop(ctx, cancel, conn, &writeMu, wsLog, studentID, examID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clock, err := h.clockService.ComputeRemaining(ctx, studentID, examID)
			if err != nil {
				// One failed read must not kill the stream; the next tick
				// will retry.
				wsLog.Debug().Err(err).Msg("clock read failed")
				continue
			}
			if h.pushClock(conn, &writeMu, clock) {
				wsLog.Info().Str("state", string(clock.State)).Msg("Clock stream closed terminal")
				return
			}
		}
	}
}

// pushClock writes either a tick or a terminal event. Returns true when the
// stream is done.
func (h *WSHandler) pushClock(conn *websocket.Conn, writeMu *sync.Mutex, clock *service.RemainingClock) bool {
	writeMu.Lock()
	defer writeMu.Unlock()

	if clock.State == model.AttemptStateFinalized || clock.State == model.AttemptStateExpired {
		_ = ws.WriteTyped(conn, ws.TerminalEvent{
			Event: ws.EventTerminal,
			State: string(clock.State),
		})
		return true
	}

	_ = ws.WriteTyped(conn, ws.TickEvent{
		Event:              ws.EventTick,
		RemainingSeconds:   clock.RemainingSeconds,
		RemainingFormatted: clock.RemainingFormatted,
	})
	return false
}

// readLoop handles client messages (autosave, ping) until the connection
// drops, then cancels the tick loop.
func (h *WSHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, writeMu *sync.Mutex, wsLog zerolog.Logger, studentID int, examID uuid.UUID) {
	defer cancel()

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, writeMu, studentID, examID, &msg)
		case ws.ActionPing:
			writeMu.Lock()
			_ = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			writeMu.Unlock()
		default:
			writeMu.Lock()
			_ = ws.WriteError(conn, "unknown action: "+string(msg.Action))
			writeMu.Unlock()
		}
	}
}

// handleAutosave stores one answer in the crash-recovery buffer. The buffer
// only matters if the client never manages to submit; the expiry worker
// scores from it.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, studentID int, examID uuid.UUID, msg *ws.RequestPayload) {
	writeMu.Lock()
	defer writeMu.Unlock()

	if msg.QID == "" || msg.Answer == "" {
		_ = ws.WriteError(conn, "q_id and ans are required")
		return
	}

	// Both ids must be well-formed UUIDs to prevent Redis key injection.
	qID, err := uuid.Parse(msg.QID)
	if err != nil {
		_ = ws.WriteError(conn, "invalid q_id format")
		return
	}
	oID, err := uuid.Parse(msg.Answer)
	if err != nil {
		_ = ws.WriteError(conn, "invalid ans format")
		return
	}

	if err := h.attemptService.SaveAnswerBuffer(ctx, studentID, examID, qID, oID); err != nil {
		h.log.Error().Err(err).Int("student_id", studentID).Msg("Autosave error")
		_ = ws.WriteError(conn, "save failed")
		return
	}

	_ = ws.WriteTyped(conn, ws.SavedEvent{Event: ws.EventSaved})
}
