package session

import (
	"errors"
	"time"

	"github.com/park285/chess-arena-server/pkg/protocol"
)

// Status is the lifecycle state of a game session.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Sentinel errors returned to the orchestrator; relayed to the originating
// connection only, never broadcast.
var (
	ErrNotParticipant = errors.New("user is not a participant of this game")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrGameNotActive  = errors.New("game is not active")
	ErrNoDrawOffer    = errors.New("no draw offer pending")
)

// Notifier delivers a server event to whatever connection currently backs
// a user, if any. Implemented by the connection registry.
type Notifier interface {
	SendTo(userID string, ev protocol.ServerEvent)
}

// Result is handed to OnFinish exactly once when the session completes.
type Result struct {
	GameID      string
	White       protocol.PlayerInfo
	Black       protocol.PlayerInfo
	TimeControl protocol.TimeControl
	Outcome     protocol.Result
	Method      string
	MovesUCI    []string
	MovesSAN    []string
	FEN         string
	StartedAt   time.Time
	EndedAt     time.Time
	// Final is the terminal snapshot; OnFinish runs on the session
	// goroutine, so callers must not call State from inside it.
	Final protocol.GameState
}

// Config wires a new session. Notifier is required; everything else has
// defaults.
type Config struct {
	GameID      string
	White       protocol.PlayerInfo
	Black       protocol.PlayerInfo
	TimeControl protocol.TimeControl

	// StartFEN overrides the initial position; empty means standard start.
	StartFEN string

	TickInterval time.Duration
	GraceSeconds int
	// PausedMessage is the human notice sent with game_paused.
	PausedMessage string

	Notifier Notifier
	OnFinish func(Result)
}
