package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the single frame shape on the wire in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientEvent is the closed set of inbound messages. Decoding produces
// exactly one of the concrete types below; unknown names are an error so
// the dispatch table cannot drift from the protocol.
type ClientEvent interface{ clientEvent() }

type Authenticate struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Rating   int    `json:"rating,omitempty"`
}

type JoinMatchmaking struct {
	TimeControl TimeControl `json:"time_control"`
}

type CancelMatchmaking struct{}

type MakeMove struct {
	GameID string `json:"game_id"`
	Move   string `json:"move"`
	// ClientTimeLeft is advisory only; server clocks are authoritative.
	ClientTimeLeft int64 `json:"client_time_left,omitempty"`
}

type Resign struct {
	GameID string `json:"game_id"`
}

type OfferDraw struct {
	GameID string `json:"game_id"`
}

type RespondDraw struct {
	GameID string `json:"game_id"`
	Accept bool   `json:"accept"`
}

type ReconnectToGame struct {
	GameID string `json:"game_id"`
}

func (Authenticate) clientEvent()      {}
func (JoinMatchmaking) clientEvent()   {}
func (CancelMatchmaking) clientEvent() {}
func (MakeMove) clientEvent()          {}
func (Resign) clientEvent()            {}
func (OfferDraw) clientEvent()         {}
func (RespondDraw) clientEvent()       {}
func (ReconnectToGame) clientEvent()   {}

// ErrUnknownEvent reports an inbound frame whose type is not in the protocol.
type ErrUnknownEvent struct{ Type string }

func (e ErrUnknownEvent) Error() string { return fmt.Sprintf("unknown event type %q", e.Type) }

// DecodeClient maps an envelope to its concrete client event.
func DecodeClient(env Envelope) (ClientEvent, error) {
	var (
		ev  ClientEvent
		err error
	)
	switch env.Type {
	case "authenticate":
		var p Authenticate
		err = json.Unmarshal(env.Data, &p)
		ev = p
	case "join_matchmaking":
		var p JoinMatchmaking
		err = json.Unmarshal(env.Data, &p)
		ev = p
	case "cancel_matchmaking":
		ev = CancelMatchmaking{}
	case "make_move":
		var p MakeMove
		err = json.Unmarshal(env.Data, &p)
		ev = p
	case "resign":
		var p Resign
		err = json.Unmarshal(env.Data, &p)
		ev = p
	case "offer_draw":
		var p OfferDraw
		err = json.Unmarshal(env.Data, &p)
		ev = p
	case "respond_draw":
		var p RespondDraw
		err = json.Unmarshal(env.Data, &p)
		ev = p
	case "reconnect_to_game":
		var p ReconnectToGame
		err = json.Unmarshal(env.Data, &p)
		ev = p
	default:
		return nil, ErrUnknownEvent{Type: env.Type}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}

// ServerEvent is the closed set of outbound messages.
type ServerEvent interface{ serverEvent() }

type Authenticated struct {
	UserID string `json:"user_id"`
	Rating int    `json:"rating"`
}

type MatchmakingQueued struct {
	TimeControl TimeControl `json:"time_control"`
	Class       string      `json:"class"`
}

type MatchmakingError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type GameStarted struct {
	GameID      string      `json:"game_id"`
	Color       Color       `json:"color"`
	Opponent    PlayerInfo  `json:"opponent"`
	TimeControl TimeControl `json:"time_control"`
	FEN         string      `json:"fen"`
}

type MoveMade struct {
	GameID      string    `json:"game_id"`
	LastMoveSAN string    `json:"last_move_san"`
	LastMoveUCI string    `json:"last_move_uci"`
	NewPosition string    `json:"new_position"`
	Turn        Color     `json:"turn"`
	Clocks      ClockInfo `json:"clocks"`
}

type MoveRejected struct {
	GameID  string       `json:"game_id"`
	Reason  RejectReason `json:"reason"`
	Message string       `json:"message,omitempty"`
}

type GameJoined struct {
	State GameState `json:"state"`
}

type GamePaused struct {
	GameID       string `json:"game_id"`
	Disconnected Color  `json:"disconnected"`
	GraceSeconds int    `json:"grace_seconds"`
	Message      string `json:"message,omitempty"`
}

type GameResumed struct {
	GameID string `json:"game_id"`
}

type DrawOffered struct {
	GameID string `json:"game_id"`
	From   Color  `json:"from"`
}

type GameOver struct {
	GameID       string         `json:"game_id"`
	Result       Result         `json:"result"`
	Reason       string         `json:"reason"`
	RatingDeltas map[string]int `json:"rating_deltas,omitempty"`
}

type JoinGameError struct {
	GameID  string `json:"game_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AuthError struct {
	Message string `json:"message"`
}

func (Authenticated) serverEvent()     {}
func (MatchmakingQueued) serverEvent() {}
func (MatchmakingError) serverEvent()  {}
func (GameStarted) serverEvent()       {}
func (MoveMade) serverEvent()          {}
func (MoveRejected) serverEvent()      {}
func (GameJoined) serverEvent()        {}
func (GamePaused) serverEvent()        {}
func (GameResumed) serverEvent()       {}
func (DrawOffered) serverEvent()       {}
func (GameOver) serverEvent()          {}
func (JoinGameError) serverEvent()     {}
func (AuthError) serverEvent()         {}

// EncodeServer wraps a server event into its wire envelope.
func EncodeServer(ev ServerEvent) (Envelope, error) {
	var name string
	switch ev.(type) {
	case Authenticated:
		name = "authenticated"
	case MatchmakingQueued:
		name = "matchmaking_queued"
	case MatchmakingError:
		name = "matchmaking_error"
	case GameStarted:
		name = "game_started"
	case MoveMade:
		name = "move_made"
	case MoveRejected:
		name = "move_rejected"
	case GameJoined:
		name = "game_joined"
	case GamePaused:
		name = "game_paused"
	case GameResumed:
		name = "game_resumed"
	case DrawOffered:
		name = "draw_offered"
	case GameOver:
		name = "game_over"
	case JoinGameError:
		name = "join_game_error"
	case AuthError:
		name = "auth_error"
	default:
		return Envelope{}, fmt.Errorf("unregistered server event %T", ev)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Envelope{Type: name, Data: raw}, nil
}
