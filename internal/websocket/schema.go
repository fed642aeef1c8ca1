package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionPing     Action = "ping"
)

// RequestPayload carries any client message; Action decides the shape.
type RequestPayload struct {
	Action Action `json:"action"`
	// Autosave fields.
	QID    string `json:"q_id,omitempty"`
	Answer string `json:"ans,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick     Event = "tick"
	EventTerminal Event = "terminal"
	EventSaved    Event = "saved"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// TickEvent is pushed once a second while the attempt is in progress.
type TickEvent struct {
	Event              Event  `json:"event"`
	RemainingSeconds   int    `json:"remaining_seconds"`
	RemainingFormatted string `json:"remaining_formatted"`
}

// TerminalEvent is the last message on a stream: the attempt finalized or
// expired, and the client must render the terminal state.
type TerminalEvent struct {
	Event Event  `json:"event"`
	State string `json:"state"`
}

// SavedEvent acknowledges an autosave.
type SavedEvent struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
