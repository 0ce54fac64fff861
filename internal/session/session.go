// Package session owns the authoritative state machine of one match:
// board, clocks, move log, and both players' connection status. All
// mutation funnels through a single event loop per session, so a clock
// expiry and an in-flight checkmate can never race to finalize.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/clock"
	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/internal/validator"
	"github.com/park285/chess-arena-server/pkg/protocol"
)

const defaultTickInterval = 500 * time.Millisecond

type request struct {
	run  func() error
	errC chan error
}

type Session struct {
	cfg Config

	fen      string
	movesUCI []string
	movesSAN []string
	turn     protocol.Color
	status   Status

	clocks  map[protocol.Color]*clock.Clock
	offline map[protocol.Color]time.Time

	drawOfferFrom protocol.Color

	startedAt time.Time
	finalized bool

	// final is written by the loop goroutine and read by State after the
	// loop is gone; the mutex covers the Close-races-finalize window.
	finalMu sync.Mutex
	final   protocol.GameState

	cmds chan request
	done chan struct{}
	quit chan struct{}
}

// New builds the session and starts its event loop. The session begins in
// waiting; call Begin once both connections are confirmed present.
func New(cfg Config) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	startFEN := cfg.StartFEN
	if startFEN == "" || startFEN == "startpos" {
		startFEN = ""
	}
	fen := startFEN
	if fen == "" {
		if g, err := validator.Reconstruct("", nil); err == nil {
			fen = g.FEN()
		}
	}
	initial := time.Duration(cfg.TimeControl.InitialSeconds) * time.Second
	inc := time.Duration(cfg.TimeControl.IncrementSeconds) * time.Second
	s := &Session{
		cfg:    cfg,
		fen:    fen,
		turn:   startingTurn(startFEN),
		status: StatusWaiting,
		clocks: map[protocol.Color]*clock.Clock{
			protocol.White: clock.New(initial, inc),
			protocol.Black: clock.New(initial, inc),
		},
		offline: make(map[protocol.Color]time.Time),
		cmds:    make(chan request, 16),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Session) ID() string { return s.cfg.GameID }

// HasPlayer reports participation. Players are immutable after New.
func (s *Session) HasPlayer(userID string) bool {
	return userID == s.cfg.White.UserID || userID == s.cfg.Black.UserID
}

// Begin collapses waiting into active and starts the mover's clock.
func (s *Session) Begin() error {
	return s.do(func() error {
		if s.status != StatusWaiting {
			return nil
		}
		s.status = StatusActive
		s.startedAt = time.Now()
		s.clocks[s.turn].Start()
		obslog.L().Info("session_begin",
			zap.String("game_id", s.cfg.GameID),
			zap.String("white_id", s.cfg.White.UserID),
			zap.String("black_id", s.cfg.Black.UserID),
			zap.String("time_control", s.cfg.TimeControl.String()),
		)
		return nil
	})
}

// ApplyMove validates and applies a move for userID. Rejections come back
// as typed errors; session state is untouched on any rejection.
func (s *Session) ApplyMove(userID, move string) error {
	return s.do(func() error { return s.applyMove(userID, move) })
}

func (s *Session) Resign(userID string) error {
	return s.do(func() error { return s.resign(userID) })
}

func (s *Session) OfferDraw(userID string) error {
	return s.do(func() error { return s.offerDraw(userID) })
}

func (s *Session) RespondDraw(userID string, accept bool) error {
	return s.do(func() error { return s.respondDraw(userID, accept) })
}

// PlayerDisconnected pauses the game; the registry owns the grace timer.
func (s *Session) PlayerDisconnected(userID string) error {
	return s.do(func() error { return s.playerDisconnected(userID) })
}

// PlayerConnected resumes a paused game and delivers the authoritative
// state to the (re)connected player.
func (s *Session) PlayerConnected(userID string) error {
	return s.do(func() error { return s.playerConnected(userID) })
}

// Abandon resigns a player who failed to reconnect within the grace
// period. No-op if they returned in the meantime.
func (s *Session) Abandon(userID string) error {
	return s.do(func() error { return s.abandon(userID) })
}

// State returns a snapshot of the public game state.
func (s *Session) State() protocol.GameState {
	var st protocol.GameState
	if err := s.do(func() error { st = s.snapshot(); return nil }); err != nil {
		s.finalMu.Lock()
		defer s.finalMu.Unlock()
		return s.final
	}
	return st
}

// Close stops the event loop without finalizing. Used on server shutdown
// and in tests; an in-progress game is not recoverable afterwards.
func (s *Session) Close() {
	select {
	case <-s.quit:
	case <-s.done:
	default:
		close(s.quit)
	}
}

func (s *Session) do(fn func() error) error {
	req := request{run: fn, errC: make(chan error, 1)}
	select {
	case s.cmds <- req:
	case <-s.done:
		return ErrGameNotActive
	case <-s.quit:
		return ErrGameNotActive
	}
	select {
	case err := <-req.errC:
		return err
	case <-s.done:
	case <-s.quit:
	}
	select {
	case err := <-req.errC:
		return err
	default:
		return ErrGameNotActive
	}
}

func (s *Session) loop() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case req := <-s.cmds:
			req.errC <- req.run()
		case <-ticker.C:
			s.tick()
		case <-s.quit:
			return
		}
		if s.finalized {
			s.shutdown()
			return
		}
	}
}

// shutdown closes done and answers anything still queued.
func (s *Session) shutdown() {
	close(s.done)
	for {
		select {
		case req := <-s.cmds:
			req.errC <- ErrGameNotActive
		default:
			return
		}
	}
}

func (s *Session) applyMove(userID, move string) error {
	color, ok := s.colorOf(userID)
	if !ok {
		return ErrNotParticipant
	}
	if s.status != StatusActive {
		return ErrGameNotActive
	}
	if color != s.turn {
		return ErrNotYourTurn
	}

	acc, rej, err := validator.Apply(s.cfg.StartFEN, s.movesUCI, move)
	if err != nil {
		obslog.L().Error("session_move_internal",
			zap.String("game_id", s.cfg.GameID), zap.Error(err))
		return err
	}
	if rej != nil {
		return rej
	}

	elapsed := s.clocks[color].Stop()
	s.movesUCI = append(s.movesUCI, acc.UCI)
	s.movesSAN = append(s.movesSAN, acc.SAN)
	s.fen = acc.FEN
	s.turn = color.Opponent()

	// A move by the offer's recipient is an implicit decline.
	if s.drawOfferFrom != "" && s.drawOfferFrom != color {
		s.drawOfferFrom = ""
	}

	if acc.Terminal == nil {
		s.clocks[s.turn].Start()
	}

	obslog.L().Info("session_move",
		zap.String("game_id", s.cfg.GameID),
		zap.String("user_id", userID),
		zap.String("uci", acc.UCI),
		zap.String("san", acc.SAN),
		zap.Duration("think", elapsed),
		zap.Int("ply", len(s.movesUCI)),
	)

	s.broadcast(protocol.MoveMade{
		GameID:      s.cfg.GameID,
		LastMoveSAN: acc.SAN,
		LastMoveUCI: acc.UCI,
		NewPosition: s.fen,
		Turn:        s.turn,
		Clocks:      s.clockInfo(),
	})

	if acc.Terminal != nil {
		s.finalize(acc.Terminal.Result, acc.Terminal.Method)
	}
	return nil
}

// tick fires only while active; the loop guarantees mutual exclusion with
// moves. A flag falls to a draw when the opponent cannot ever mate.
func (s *Session) tick() {
	if s.status != StatusActive {
		return
	}
	running := s.clocks[s.turn]
	if !running.Expired() {
		return
	}
	running.Pause()
	flagged := s.turn
	winner := flagged.Opponent()

	result := protocol.ResultDraw
	if validator.HasMatingMaterial(s.fen, winner) {
		if winner == protocol.White {
			result = protocol.ResultWhiteWins
		} else {
			result = protocol.ResultBlackWins
		}
	}
	obslog.L().Info("session_flag",
		zap.String("game_id", s.cfg.GameID),
		zap.String("flagged", string(flagged)),
		zap.String("result", string(result)),
	)
	s.finalize(result, protocol.MethodTimeout)
}

func (s *Session) resign(userID string) error {
	color, ok := s.colorOf(userID)
	if !ok {
		return ErrNotParticipant
	}
	if s.status != StatusActive && s.status != StatusPaused {
		return ErrGameNotActive
	}
	obslog.L().Info("session_resign",
		zap.String("game_id", s.cfg.GameID), zap.String("user_id", userID))
	s.finalize(winFor(color.Opponent()), protocol.MethodResignation)
	return nil
}

func (s *Session) offerDraw(userID string) error {
	color, ok := s.colorOf(userID)
	if !ok {
		return ErrNotParticipant
	}
	if s.status != StatusActive {
		return ErrGameNotActive
	}
	if s.drawOfferFrom == color {
		return nil
	}
	s.drawOfferFrom = color
	s.notify(s.playerOf(color.Opponent()).UserID, protocol.DrawOffered{
		GameID: s.cfg.GameID,
		From:   color,
	})
	return nil
}

func (s *Session) respondDraw(userID string, accept bool) error {
	color, ok := s.colorOf(userID)
	if !ok {
		return ErrNotParticipant
	}
	if s.status != StatusActive {
		return ErrGameNotActive
	}
	if s.drawOfferFrom == "" || s.drawOfferFrom == color {
		return ErrNoDrawOffer
	}
	if !accept {
		s.drawOfferFrom = ""
		return nil
	}
	s.finalize(protocol.ResultDraw, protocol.MethodDrawAgreed)
	return nil
}

func (s *Session) playerDisconnected(userID string) error {
	color, ok := s.colorOf(userID)
	if !ok {
		return ErrNotParticipant
	}
	if s.status == StatusCompleted {
		return nil
	}
	s.offline[color] = time.Now()
	if s.status == StatusActive {
		s.clocks[s.turn].Pause()
		s.status = StatusPaused
	}
	obslog.L().Info("session_pause",
		zap.String("game_id", s.cfg.GameID),
		zap.String("disconnected", string(color)),
	)
	s.notify(s.playerOf(color.Opponent()).UserID, protocol.GamePaused{
		GameID:       s.cfg.GameID,
		Disconnected: color,
		GraceSeconds: s.cfg.GraceSeconds,
		Message:      s.cfg.PausedMessage,
	})
	return nil
}

func (s *Session) playerConnected(userID string) error {
	color, ok := s.colorOf(userID)
	if !ok {
		return ErrNotParticipant
	}
	if s.status == StatusCompleted {
		return ErrGameNotActive
	}
	delete(s.offline, color)
	if s.status == StatusPaused && len(s.offline) == 0 {
		s.status = StatusActive
		s.clocks[s.turn].Start()
		obslog.L().Info("session_resume", zap.String("game_id", s.cfg.GameID))
		s.notify(s.playerOf(color.Opponent()).UserID, protocol.GameResumed{GameID: s.cfg.GameID})
	}
	s.notify(userID, protocol.GameJoined{State: s.snapshot()})
	return nil
}

func (s *Session) abandon(userID string) error {
	color, ok := s.colorOf(userID)
	if !ok {
		return ErrNotParticipant
	}
	if s.status == StatusCompleted {
		return nil
	}
	if _, gone := s.offline[color]; !gone {
		return nil // reconnected before the timer landed
	}
	obslog.L().Info("session_abandon",
		zap.String("game_id", s.cfg.GameID), zap.String("user_id", userID))
	s.finalize(winFor(color.Opponent()), protocol.MethodAbandonment)
	return nil
}

// finalize is idempotent: the first caller wins, later paths are no-ops.
func (s *Session) finalize(result protocol.Result, method string) {
	if s.finalized {
		return
	}
	s.finalized = true
	s.clocks[protocol.White].Pause()
	s.clocks[protocol.Black].Pause()
	s.status = StatusCompleted
	s.drawOfferFrom = ""

	st := s.snapshot()
	st.Result = result
	st.Method = method
	s.finalMu.Lock()
	s.final = st
	s.finalMu.Unlock()

	obslog.L().Info("session_finalize",
		zap.String("game_id", s.cfg.GameID),
		zap.String("result", string(result)),
		zap.String("method", method),
	)

	if s.cfg.OnFinish != nil {
		s.cfg.OnFinish(Result{
			GameID:      s.cfg.GameID,
			White:       s.cfg.White,
			Black:       s.cfg.Black,
			TimeControl: s.cfg.TimeControl,
			Outcome:     result,
			Method:      method,
			MovesUCI:    append([]string(nil), s.movesUCI...),
			MovesSAN:    append([]string(nil), s.movesSAN...),
			FEN:         s.fen,
			StartedAt:   s.startedAt,
			EndedAt:     time.Now(),
			Final:       st,
		})
	}
}

func (s *Session) snapshot() protocol.GameState {
	running := protocol.Color("")
	switch {
	case s.clocks[protocol.White].Running():
		running = protocol.White
	case s.clocks[protocol.Black].Running():
		running = protocol.Black
	}
	st := protocol.GameState{
		GameID:      s.cfg.GameID,
		White:       s.cfg.White,
		Black:       s.cfg.Black,
		TimeControl: s.cfg.TimeControl,
		FEN:         s.fen,
		MovesSAN:    append([]string(nil), s.movesSAN...),
		MovesUCI:    append([]string(nil), s.movesUCI...),
		Turn:        s.turn,
		Status:      string(s.status),
		Clocks: protocol.ClockInfo{
			WhiteMillis: s.clocks[protocol.White].Remaining().Milliseconds(),
			BlackMillis: s.clocks[protocol.Black].Remaining().Milliseconds(),
			Running:     running,
		},
	}
	return st
}

func (s *Session) clockInfo() protocol.ClockInfo {
	running := protocol.Color("")
	if s.clocks[s.turn].Running() {
		running = s.turn
	}
	return protocol.ClockInfo{
		WhiteMillis: s.clocks[protocol.White].Remaining().Milliseconds(),
		BlackMillis: s.clocks[protocol.Black].Remaining().Milliseconds(),
		Running:     running,
	}
}

func (s *Session) colorOf(userID string) (protocol.Color, bool) {
	switch userID {
	case s.cfg.White.UserID:
		return protocol.White, true
	case s.cfg.Black.UserID:
		return protocol.Black, true
	default:
		return "", false
	}
}

func (s *Session) playerOf(c protocol.Color) protocol.PlayerInfo {
	if c == protocol.White {
		return s.cfg.White
	}
	return s.cfg.Black
}

func (s *Session) broadcast(ev protocol.ServerEvent) {
	s.notify(s.cfg.White.UserID, ev)
	s.notify(s.cfg.Black.UserID, ev)
}

func (s *Session) notify(userID string, ev protocol.ServerEvent) {
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.SendTo(userID, ev)
	}
}

func winFor(c protocol.Color) protocol.Result {
	if c == protocol.White {
		return protocol.ResultWhiteWins
	}
	return protocol.ResultBlackWins
}

// startingTurn derives the side to move from a custom start FEN.
func startingTurn(startFEN string) protocol.Color {
	if startFEN == "" {
		return protocol.White
	}
	return validator.TurnOf(startFEN)
}
