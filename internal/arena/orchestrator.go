// Package arena ties the subsystems together: it routes client events to
// matchmaking and sessions, creates games from matchmaking pairs, and
// settles ratings and persistence when games finish.
package arena

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/matchmaking"
	"github.com/park285/chess-arena-server/internal/msgcat"
	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/internal/rating"
	"github.com/park285/chess-arena-server/internal/registry"
	"github.com/park285/chess-arena-server/internal/session"
	"github.com/park285/chess-arena-server/internal/store"
	"github.com/park285/chess-arena-server/internal/validator"
	"github.com/park285/chess-arena-server/pkg/protocol"
)

// ResultStore persists finished games and serves rating lookups.
// *store.Repository implements it; nil disables persistence.
type ResultStore interface {
	SaveResult(ctx context.Context, res session.Result, changes []store.RatingChange) error
	CurrentRating(ctx context.Context, userID, class string) (int, bool, error)
}

// FeedPublisher mirrors game snapshots for spectators. Nil disables it.
type FeedPublisher interface {
	Publish(ctx context.Context, st protocol.GameState) error
	Finish(ctx context.Context, st protocol.GameState) error
}

type Config struct {
	DefaultRating int
	GraceSeconds  int
	TickInterval  time.Duration
	Matchmaking   matchmaking.Config
}

type identity struct {
	userID   string
	username string
	rating   int
}

type Orchestrator struct {
	cfg     Config
	reg     *registry.Registry
	queue   *matchmaking.Queue
	ratings *rating.Updater
	repo    ResultStore
	feed    FeedPublisher
	msgs    *msgcat.Catalog

	mu         sync.Mutex
	sessions   map[string]*session.Session
	conns      map[registry.Conn]string
	identities map[string]identity
}

func New(cfg Config, repo ResultStore, feed FeedPublisher, msgs *msgcat.Catalog) *Orchestrator {
	if cfg.DefaultRating <= 0 {
		cfg.DefaultRating = 1200
	}
	if cfg.GraceSeconds <= 0 {
		cfg.GraceSeconds = 60
	}
	o := &Orchestrator{
		cfg:        cfg,
		ratings:    rating.NewUpdater(rating.DefaultBands()),
		repo:       repo,
		feed:       feed,
		msgs:       msgs,
		sessions:   make(map[string]*session.Session),
		conns:      make(map[registry.Conn]string),
		identities: make(map[string]identity),
	}
	o.reg = registry.New(time.Duration(cfg.GraceSeconds)*time.Second, o)

	mm := cfg.Matchmaking
	mm.Busy = func(userID string) bool {
		_, inGame := o.reg.GameOf(userID)
		return inGame
	}
	mm.OnQueued = o.onQueued
	mm.OnPair = o.onPair
	mm.OnTimeout = o.onTimeout
	o.queue = matchmaking.NewQueue(mm)
	return o
}

// Close stops matchmaking and tears down all live sessions.
func (o *Orchestrator) Close() {
	o.queue.Close()
	o.mu.Lock()
	sessions := make([]*session.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// HandleEvent dispatches one decoded client event for a connection.
func (o *Orchestrator) HandleEvent(conn registry.Conn, ev protocol.ClientEvent) {
	switch e := ev.(type) {
	case protocol.Authenticate:
		o.handleAuthenticate(conn, e)
		return
	}

	userID, ok := o.userOf(conn)
	if !ok {
		o.send(conn, protocol.AuthError{Message: "authenticate first"})
		return
	}

	switch e := ev.(type) {
	case protocol.JoinMatchmaking:
		o.handleJoinMatchmaking(conn, userID, e)
	case protocol.CancelMatchmaking:
		o.queue.Withdraw(userID)
	case protocol.MakeMove:
		o.handleMakeMove(conn, userID, e)
	case protocol.Resign:
		o.handleGameAction(conn, userID, e.GameID, func(s *session.Session) error {
			return s.Resign(userID)
		})
	case protocol.OfferDraw:
		o.handleGameAction(conn, userID, e.GameID, func(s *session.Session) error {
			return s.OfferDraw(userID)
		})
	case protocol.RespondDraw:
		o.handleGameAction(conn, userID, e.GameID, func(s *session.Session) error {
			return s.RespondDraw(userID, e.Accept)
		})
	case protocol.ReconnectToGame:
		o.handleReconnect(conn, userID, e)
	default:
		obslog.L().Warn("arena_unhandled_event", zap.String("user_id", userID))
	}
}

// HandleDisconnect cleans up after a dropped connection. The registry
// decides whether a grace timer is warranted.
func (o *Orchestrator) HandleDisconnect(conn registry.Conn) {
	o.mu.Lock()
	delete(o.conns, conn)
	o.mu.Unlock()

	userID, _ := o.reg.Unbind(conn)
	if userID != "" {
		o.queue.Withdraw(userID)
	}
}

func (o *Orchestrator) handleAuthenticate(conn registry.Conn, e protocol.Authenticate) {
	userID := strings.TrimSpace(e.UserID)
	username := strings.TrimSpace(e.Username)
	if userID == "" || username == "" {
		o.send(conn, protocol.AuthError{Message: "user_id and username are required"})
		return
	}

	id := identity{userID: userID, username: username, rating: e.Rating}
	if id.rating <= 0 {
		id.rating = o.cfg.DefaultRating
	}
	o.mu.Lock()
	o.conns[conn] = userID
	o.identities[userID] = id
	o.mu.Unlock()

	// Register after identity is recorded; a mid-game reconnect fires
	// PlayerConnected synchronously.
	o.reg.Register(userID, conn)
	o.send(conn, protocol.Authenticated{UserID: userID, Rating: id.rating})
}

func (o *Orchestrator) handleJoinMatchmaking(conn registry.Conn, userID string, e protocol.JoinMatchmaking) {
	class := e.TimeControl.Class()
	r := o.resolveRating(userID, class)

	// The queued ack is sent by onQueued so it reaches the client before
	// any game_started from an immediate pairing.
	_, err := o.queue.Enqueue(userID, r, e.TimeControl)
	switch {
	case err == nil:
	case errors.Is(err, matchmaking.ErrDuplicateTicket):
		o.send(conn, protocol.MatchmakingError{
			Code:    "duplicate",
			Message: o.notice("matchmaking.duplicate", nil, "already in the matchmaking queue"),
		})
	case errors.Is(err, matchmaking.ErrPlayerBusy):
		o.send(conn, protocol.MatchmakingError{
			Code:    "busy",
			Message: o.notice("matchmaking.busy", nil, "already in an active game"),
		})
	default:
		o.send(conn, protocol.MatchmakingError{Code: "invalid", Message: err.Error()})
	}
}

func (o *Orchestrator) handleMakeMove(conn registry.Conn, userID string, e protocol.MakeMove) {
	s, ok := o.sessionOf(e.GameID)
	if !ok {
		o.send(conn, protocol.MoveRejected{
			GameID: e.GameID,
			Reason: protocol.RejectGameNotActive,
		})
		return
	}
	err := s.ApplyMove(userID, e.Move)
	if err == nil {
		o.publishSnapshot(s)
		return
	}

	var rej *validator.Rejection
	out := protocol.MoveRejected{GameID: e.GameID}
	switch {
	case errors.As(err, &rej):
		out.Reason = rej.Reason
		out.Message = rej.Detail
	case errors.Is(err, session.ErrNotYourTurn):
		out.Reason = protocol.RejectNotYourTurn
	case errors.Is(err, session.ErrGameNotActive), errors.Is(err, session.ErrNotParticipant):
		out.Reason = protocol.RejectGameNotActive
	default:
		obslog.L().Error("arena_move_failed",
			zap.String("game_id", e.GameID), zap.Error(err))
		out.Reason = protocol.RejectGameNotActive
	}
	o.send(conn, out)
}

func (o *Orchestrator) handleGameAction(conn registry.Conn, userID, gameID string, fn func(*session.Session) error) {
	s, ok := o.sessionOf(gameID)
	if !ok {
		o.send(conn, protocol.JoinGameError{GameID: gameID, Code: "not_found", Message: "unknown game"})
		return
	}
	if err := fn(s); err != nil {
		o.send(conn, protocol.MoveRejected{
			GameID:  gameID,
			Reason:  protocol.RejectGameNotActive,
			Message: err.Error(),
		})
	}
}

func (o *Orchestrator) handleReconnect(conn registry.Conn, userID string, e protocol.ReconnectToGame) {
	s, ok := o.sessionOf(e.GameID)
	if !ok || !s.HasPlayer(userID) {
		o.send(conn, protocol.JoinGameError{
			GameID:  e.GameID,
			Code:    "not_found",
			Message: "unknown game",
		})
		return
	}
	o.reg.SetGame(userID, e.GameID)
	if err := s.PlayerConnected(userID); err != nil {
		o.send(conn, protocol.JoinGameError{
			GameID:  e.GameID,
			Code:    "completed",
			Message: "game already over",
		})
	}
}

// onPair turns a matchmaking pair into a live session.
func (o *Orchestrator) onQueued(t matchmaking.Ticket) {
	o.reg.SendTo(t.UserID, protocol.MatchmakingQueued{
		TimeControl: t.Control,
		Class:       t.Control.Class(),
	})
}

func (o *Orchestrator) onPair(p matchmaking.Pair) {
	gameID := uuid.NewString()
	white := o.playerInfo(p.White)
	black := o.playerInfo(p.Black)

	s := session.New(session.Config{
		GameID:       gameID,
		White:        white,
		Black:        black,
		TimeControl:  p.Control,
		TickInterval: o.cfg.TickInterval,
		GraceSeconds: o.cfg.GraceSeconds,
		PausedMessage: o.notice("game.paused",
			map[string]any{"Seconds": o.cfg.GraceSeconds},
			"opponent disconnected"),
		Notifier: o.reg,
		OnFinish: o.onFinish,
	})

	o.mu.Lock()
	o.sessions[gameID] = s
	o.mu.Unlock()
	o.reg.SetGame(white.UserID, gameID)
	o.reg.SetGame(black.UserID, gameID)

	obslog.L().Info("arena_game_create",
		zap.String("game_id", gameID),
		zap.String("white_id", white.UserID),
		zap.String("black_id", black.UserID),
		zap.String("control", p.Control.String()),
	)

	startFEN := s.State().FEN
	o.reg.SendTo(white.UserID, protocol.GameStarted{
		GameID: gameID, Color: protocol.White, Opponent: black,
		TimeControl: p.Control, FEN: startFEN,
	})
	o.reg.SendTo(black.UserID, protocol.GameStarted{
		GameID: gameID, Color: protocol.Black, Opponent: white,
		TimeControl: p.Control, FEN: startFEN,
	})

	if err := s.Begin(); err != nil {
		obslog.L().Error("arena_game_begin", zap.String("game_id", gameID), zap.Error(err))
	}
	o.publishSnapshot(s)
}

func (o *Orchestrator) onTimeout(t matchmaking.Ticket) {
	o.reg.SendTo(t.UserID, protocol.MatchmakingError{
		Code: "timeout",
		Message: o.notice("matchmaking.timeout",
			map[string]any{"Seconds": int(o.cfg.Matchmaking.Timeout.Seconds())},
			"no opponent found"),
	})
}

// onFinish settles ratings, notifies both players, persists the game,
// and releases registry bindings. Runs on the session's goroutine.
func (o *Orchestrator) onFinish(res session.Result) {
	class := res.TimeControl.Class()
	wOld, bOld := res.White.Rating, res.Black.Rating
	wNew, bNew := o.ratings.ComputeNewRatings(res.Outcome, wOld, bOld)

	deltas := map[string]int{
		res.White.UserID: wNew - wOld,
		res.Black.UserID: bNew - bOld,
	}
	o.mu.Lock()
	if id, ok := o.identities[res.White.UserID]; ok {
		id.rating = wNew
		o.identities[res.White.UserID] = id
	}
	if id, ok := o.identities[res.Black.UserID]; ok {
		id.rating = bNew
		o.identities[res.Black.UserID] = id
	}
	delete(o.sessions, res.GameID)
	o.mu.Unlock()

	over := protocol.GameOver{
		GameID:       res.GameID,
		Result:       res.Outcome,
		Reason:       res.Method,
		RatingDeltas: deltas,
	}
	o.reg.SendTo(res.White.UserID, over)
	o.reg.SendTo(res.Black.UserID, over)
	o.reg.ClearGame(res.White.UserID)
	o.reg.ClearGame(res.Black.UserID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if o.repo != nil {
		changes := []store.RatingChange{
			{UserID: res.White.UserID, Class: class, OldRating: wOld, NewRating: wNew},
			{UserID: res.Black.UserID, Class: class, OldRating: bOld, NewRating: bNew},
		}
		if err := o.repo.SaveResult(ctx, res, changes); err != nil {
			obslog.L().Error("arena_persist_failed",
				zap.String("game_id", res.GameID), zap.Error(err))
		}
	}
	if o.feed != nil {
		if err := o.feed.Finish(ctx, res.Final); err != nil {
			obslog.L().Warn("arena_feed_finish_failed",
				zap.String("game_id", res.GameID), zap.Error(err))
		}
	}

	obslog.L().Info("arena_game_over",
		zap.String("game_id", res.GameID),
		zap.String("result", string(res.Outcome)),
		zap.String("method", res.Method),
		zap.Int("white_delta", deltas[res.White.UserID]),
		zap.Int("black_delta", deltas[res.Black.UserID]),
	)
}

// Registry presence callbacks.

func (o *Orchestrator) PlayerConnected(gameID, userID string) {
	if s, ok := o.sessionOf(gameID); ok {
		_ = s.PlayerConnected(userID)
	}
}

func (o *Orchestrator) PlayerDisconnected(gameID, userID string) {
	if s, ok := o.sessionOf(gameID); ok {
		_ = s.PlayerDisconnected(userID)
	}
}

func (o *Orchestrator) PlayerAbandoned(gameID, userID string) {
	if s, ok := o.sessionOf(gameID); ok {
		_ = s.Abandon(userID)
	}
}

func (o *Orchestrator) sessionOf(gameID string) (*session.Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[gameID]
	return s, ok
}

func (o *Orchestrator) userOf(conn registry.Conn) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	userID, ok := o.conns[conn]
	return userID, ok
}

func (o *Orchestrator) playerInfo(t matchmaking.Ticket) protocol.PlayerInfo {
	o.mu.Lock()
	id, ok := o.identities[t.UserID]
	o.mu.Unlock()
	if !ok {
		id = identity{userID: t.UserID, username: t.UserID}
	}
	return protocol.PlayerInfo{UserID: t.UserID, Username: id.username, Rating: t.Rating}
}

// resolveRating prefers persisted history, then the rating declared at
// authentication, then the global default.
func (o *Orchestrator) resolveRating(userID, class string) int {
	if o.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r, ok, err := o.repo.CurrentRating(ctx, userID, class)
		cancel()
		if err != nil {
			obslog.L().Warn("arena_rating_lookup_failed",
				zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			return r
		}
	}
	o.mu.Lock()
	id, ok := o.identities[userID]
	o.mu.Unlock()
	if ok && id.rating > 0 {
		return id.rating
	}
	return o.cfg.DefaultRating
}

func (o *Orchestrator) publishSnapshot(s *session.Session) {
	if o.feed == nil {
		return
	}
	st := s.State()
	// completed games are handled by onFinish; re-publishing here would
	// put the game back on the live index
	if st.Status == string(session.StatusCompleted) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.feed.Publish(ctx, st); err != nil {
		obslog.L().Warn("arena_feed_publish_failed",
			zap.String("game_id", s.ID()), zap.Error(err))
	}
}

func (o *Orchestrator) send(conn registry.Conn, ev protocol.ServerEvent) {
	if err := conn.Send(ev); err != nil {
		obslog.L().Warn("arena_send_failed", zap.Error(err))
	}
}

// notice renders a catalog message, falling back to a plain string when
// the catalog is absent or the key is missing.
func (o *Orchestrator) notice(key string, data map[string]any, fallback string) string {
	if o.msgs == nil {
		return fallback
	}
	out, err := o.msgs.Render(key, data)
	if err != nil {
		return fallback
	}
	return out
}
