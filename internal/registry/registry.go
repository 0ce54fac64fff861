// Package registry tracks the single live connection per authenticated
// user and the game that user is bound to. A disconnect during a game
// arms a grace timer; reconnecting within the grace period cancels it,
// letting the timer expire forfeits the game.
package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/pkg/protocol"
)

// Conn is the transport-side handle the registry delivers events to.
type Conn interface {
	Send(ev protocol.ServerEvent) error
	Close()
}

// GameNotifier receives presence transitions for users bound to a game.
type GameNotifier interface {
	PlayerConnected(gameID, userID string)
	PlayerDisconnected(gameID, userID string)
	PlayerAbandoned(gameID, userID string)
}

type binding struct {
	conn   Conn
	gameID string
	grace  *time.Timer
}

type Registry struct {
	gracePeriod time.Duration
	games       GameNotifier

	mu     sync.Mutex
	byUser map[string]*binding
}

func New(gracePeriod time.Duration, games GameNotifier) *Registry {
	return &Registry{
		gracePeriod: gracePeriod,
		games:       games,
		byUser:      make(map[string]*binding),
	}
}

// Register binds a connection to a user. A previous connection for the
// same user is closed and replaced; if the user was mid-game and within
// grace, the pending forfeit is cancelled and the game resumes.
func (r *Registry) Register(userID string, conn Conn) {
	var old Conn
	var gameID string

	r.mu.Lock()
	b, ok := r.byUser[userID]
	if !ok {
		b = &binding{}
		r.byUser[userID] = b
	}
	if b.conn != nil && b.conn != conn {
		old = b.conn
	}
	wasOffline := b.conn == nil
	b.conn = conn
	if b.grace != nil {
		b.grace.Stop()
		b.grace = nil
	}
	if wasOffline && b.gameID != "" {
		gameID = b.gameID
	}
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if gameID != "" {
		obslog.L().Info("registry_reconnect",
			zap.String("user_id", userID),
			zap.String("game_id", gameID))
		r.games.PlayerConnected(gameID, userID)
	}
}

// Unbind handles a dropped connection. A stale conn, one already
// replaced by a newer Register, is ignored. Returns the user the conn
// belonged to so the caller can clean up matchmaking state.
func (r *Registry) Unbind(conn Conn) (userID string, inGame bool) {
	var gameID string

	r.mu.Lock()
	for uid, b := range r.byUser {
		if b.conn != conn {
			continue
		}
		userID = uid
		b.conn = nil
		if b.gameID == "" {
			delete(r.byUser, uid)
			break
		}
		gameID = b.gameID
		inGame = true
		if b.grace != nil {
			b.grace.Stop()
		}
		b.grace = time.AfterFunc(r.gracePeriod, func() { r.graceExpired(uid) })
		break
	}
	r.mu.Unlock()

	if userID == "" {
		return "", false
	}
	obslog.L().Info("registry_disconnect",
		zap.String("user_id", userID),
		zap.Bool("in_game", inGame))
	if inGame {
		r.games.PlayerDisconnected(gameID, userID)
	}
	return userID, inGame
}

func (r *Registry) graceExpired(userID string) {
	var gameID string

	r.mu.Lock()
	b, ok := r.byUser[userID]
	if ok && b.conn == nil && b.gameID != "" {
		gameID = b.gameID
		b.grace = nil
		delete(r.byUser, userID)
	}
	r.mu.Unlock()

	if gameID != "" {
		obslog.L().Info("registry_grace_expired",
			zap.String("user_id", userID),
			zap.String("game_id", gameID))
		r.games.PlayerAbandoned(gameID, userID)
	}
}

// SetGame marks a user as participating in a game.
func (r *Registry) SetGame(userID, gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byUser[userID]
	if !ok {
		b = &binding{}
		r.byUser[userID] = b
	}
	b.gameID = gameID
}

// ClearGame releases the game binding once a game completes. Any armed
// grace timer is cancelled; an offline user's entry is dropped.
func (r *Registry) ClearGame(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byUser[userID]
	if !ok {
		return
	}
	b.gameID = ""
	if b.grace != nil {
		b.grace.Stop()
		b.grace = nil
	}
	if b.conn == nil {
		delete(r.byUser, userID)
	}
}

// GameOf returns the game a user is currently bound to.
func (r *Registry) GameOf(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byUser[userID]
	if !ok || b.gameID == "" {
		return "", false
	}
	return b.gameID, true
}

// Online reports whether the user has a live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byUser[userID]
	return ok && b.conn != nil
}

// SendTo delivers an event to the user's live connection. Offline users
// are silently skipped; the session snapshot covers them on reconnect.
func (r *Registry) SendTo(userID string, ev protocol.ServerEvent) {
	r.mu.Lock()
	b, ok := r.byUser[userID]
	var conn Conn
	if ok {
		conn = b.conn
	}
	r.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Send(ev); err != nil {
		obslog.L().Warn("registry_send_failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}
