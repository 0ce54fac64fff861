package protocol

import "fmt"

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// TimeControl is the clock setup of a game. Initial and increment fully
// define the game; Class is derived from them, never trusted from the wire.
type TimeControl struct {
	InitialSeconds   int `json:"initial_seconds"`
	IncrementSeconds int `json:"increment_seconds"`
}

// Class buckets a time control into the usual speed categories using the
// estimated game duration (initial + 40 moves of increment).
func (tc TimeControl) Class() string {
	est := tc.InitialSeconds + 40*tc.IncrementSeconds
	switch {
	case est < 180:
		return "bullet"
	case est < 600:
		return "blitz"
	case est < 1800:
		return "rapid"
	default:
		return "classical"
	}
}

func (tc TimeControl) String() string {
	return fmt.Sprintf("%d+%d", tc.InitialSeconds, tc.IncrementSeconds)
}

// Result is a game outcome from White's perspective.
type Result string

const (
	ResultWhiteWins Result = "white"
	ResultBlackWins Result = "black"
	ResultDraw      Result = "draw"
)

// Termination methods recorded on game_over and in the archive.
const (
	MethodCheckmate            = "checkmate"
	MethodStalemate            = "stalemate"
	MethodInsufficientMaterial = "insufficient_material"
	MethodRepetition           = "repetition"
	MethodFiftyMove            = "fifty_move"
	MethodDrawAgreed           = "draw_agreed"
	MethodResignation          = "resignation"
	MethodTimeout              = "timeout"
	MethodAbandonment          = "abandonment"
)

// RejectReason classifies why a submitted move was refused.
type RejectReason string

const (
	RejectIllegalGeometry   RejectReason = "IllegalGeometry"
	RejectLeavesKingInCheck RejectReason = "LeavesKingInCheck"
	RejectWrongPiece        RejectReason = "WrongPieceOrNoPiece"
	RejectAmbiguousMove     RejectReason = "AmbiguousMove"
	RejectNotYourTurn       RejectReason = "NotYourTurn"
	RejectGameNotActive     RejectReason = "GameNotActive"
)

// PlayerInfo is the public view of a participant.
type PlayerInfo struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
}

// ClockInfo mirrors both clocks in a server event.
type ClockInfo struct {
	WhiteMillis int64 `json:"white_millis"`
	BlackMillis int64 `json:"black_millis"`
	Running     Color `json:"running,omitempty"`
}

// GameState is the full authoritative state delivered on (re)join.
type GameState struct {
	GameID      string      `json:"game_id"`
	White       PlayerInfo  `json:"white"`
	Black       PlayerInfo  `json:"black"`
	TimeControl TimeControl `json:"time_control"`
	FEN         string      `json:"fen"`
	MovesSAN    []string    `json:"moves_san"`
	MovesUCI    []string    `json:"moves_uci"`
	Turn        Color       `json:"turn"`
	Status      string      `json:"status"`
	Clocks      ClockInfo   `json:"clocks"`
	Result      Result      `json:"result,omitempty"`
	Method      string      `json:"method,omitempty"`
}
