package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-arena-server/internal/validator"
	"github.com/park285/chess-arena-server/pkg/protocol"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events map[string][]protocol.ServerEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(map[string][]protocol.ServerEvent)}
}

func (n *fakeNotifier) SendTo(userID string, ev protocol.ServerEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[userID] = append(n.events[userID], ev)
}

func (n *fakeNotifier) last(userID string) protocol.ServerEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	evs := n.events[userID]
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

func (n *fakeNotifier) count(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events[userID])
}

var (
	whiteP = protocol.PlayerInfo{UserID: "w1", Username: "alice", Rating: 1500}
	blackP = protocol.PlayerInfo{UserID: "b1", Username: "bob", Rating: 1480}
)

func newTestSession(t *testing.T, mutate func(*Config)) (*Session, *fakeNotifier, chan Result) {
	t.Helper()
	notes := newFakeNotifier()
	results := make(chan Result, 1)
	cfg := Config{
		GameID:       "g1",
		White:        whiteP,
		Black:        blackP,
		TimeControl:  protocol.TimeControl{InitialSeconds: 300, IncrementSeconds: 5},
		TickInterval: 20 * time.Millisecond,
		GraceSeconds: 60,
		Notifier:     notes,
		OnFinish:     func(r Result) { results <- r },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg)
	t.Cleanup(s.Close)
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return s, notes, results
}

func waitResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("session never finished")
		return Result{}
	}
}

func TestMoveFlow(t *testing.T) {
	s, notes, _ := newTestSession(t, nil)

	if err := s.ApplyMove("w1", "e2e4"); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	st := s.State()
	if st.Turn != protocol.Black || len(st.MovesUCI) != 1 || st.MovesSAN[0] != "e4" {
		t.Fatalf("bad state after move: %+v", st)
	}
	mv, ok := notes.last("b1").(protocol.MoveMade)
	if !ok {
		t.Fatalf("opponent did not get move_made, got %T", notes.last("b1"))
	}
	if mv.LastMoveUCI != "e2e4" || mv.Turn != protocol.Black {
		t.Fatalf("bad move event: %+v", mv)
	}
	// increment credited to the mover
	if st.Clocks.WhiteMillis <= 300_000 {
		t.Fatalf("white clock missing increment: %d", st.Clocks.WhiteMillis)
	}
}

func TestMoveLogParityMatchesTurn(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	moves := []struct{ user, mv string }{
		{"w1", "e2e4"}, {"b1", "e7e5"}, {"w1", "g1f3"}, {"b1", "b8c6"}, {"w1", "f1b5"},
	}
	for _, m := range moves {
		if err := s.ApplyMove(m.user, m.mv); err != nil {
			t.Fatalf("%s %s: %v", m.user, m.mv, err)
		}
		st := s.State()
		wantWhite := len(st.MovesUCI)%2 == 0
		if wantWhite != (st.Turn == protocol.White) {
			t.Fatalf("parity broken: %d moves, turn %s", len(st.MovesUCI), st.Turn)
		}
	}
}

func TestOutOfTurnDoesNotMutate(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	before := s.State()
	if err := s.ApplyMove("b1", "e7e5"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("want ErrNotYourTurn, got %v", err)
	}
	after := s.State()
	if after.Turn != before.Turn || len(after.MovesUCI) != 0 || after.FEN != before.FEN {
		t.Fatalf("state mutated on rejection: %+v", after)
	}
}

func TestRejectionDoesNotMutate(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	err := s.ApplyMove("w1", "e2e5")
	var rej *validator.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("want rejection, got %v", err)
	}
	if rej.Reason != protocol.RejectIllegalGeometry {
		t.Fatalf("reason = %s", rej.Reason)
	}
	st := s.State()
	if len(st.MovesUCI) != 0 || st.Turn != protocol.White {
		t.Fatalf("state mutated: %+v", st)
	}
}

func TestNonParticipant(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	if err := s.ApplyMove("nobody", "e2e4"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("want ErrNotParticipant, got %v", err)
	}
}

// Exactly one clock runs while active; none after completion.
func TestClockOwnership(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	st := s.State()
	if st.Clocks.Running != protocol.White {
		t.Fatalf("white clock should run first, got %q", st.Clocks.Running)
	}
	if err := s.ApplyMove("w1", "e2e4"); err != nil {
		t.Fatal(err)
	}
	st = s.State()
	if st.Clocks.Running != protocol.Black {
		t.Fatalf("black clock should run after white's move, got %q", st.Clocks.Running)
	}

	if err := s.Resign("b1"); err != nil {
		t.Fatal(err)
	}
	st = s.State()
	if st.Clocks.Running != "" {
		t.Fatalf("no clock should run after completion, got %q", st.Clocks.Running)
	}
}

func TestResign(t *testing.T) {
	s, _, results := newTestSession(t, nil)

	if err := s.Resign("b1"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	r := waitResult(t, results)
	if r.Outcome != protocol.ResultWhiteWins || r.Method != protocol.MethodResignation {
		t.Fatalf("bad result: %+v", r)
	}
	if r.Final.Status != string(StatusCompleted) {
		t.Fatalf("final snapshot status = %s", r.Final.Status)
	}

	// the session is closed for business afterwards
	if err := s.Resign("w1"); !errors.Is(err, ErrGameNotActive) {
		t.Fatalf("want ErrGameNotActive after completion, got %v", err)
	}
	if len(results) != 0 {
		t.Fatal("OnFinish fired more than once")
	}
}

func TestCheckmateFinalizes(t *testing.T) {
	s, _, results := newTestSession(t, nil)

	moves := []struct{ user, mv string }{
		{"w1", "f2f3"}, {"b1", "e7e5"}, {"w1", "g2g4"}, {"b1", "d8h4"},
	}
	for _, m := range moves {
		if err := s.ApplyMove(m.user, m.mv); err != nil {
			t.Fatalf("%s %s: %v", m.user, m.mv, err)
		}
	}
	r := waitResult(t, results)
	if r.Outcome != protocol.ResultBlackWins || r.Method != protocol.MethodCheckmate {
		t.Fatalf("bad result: %+v", r)
	}
	if len(r.MovesSAN) != 4 || r.MovesSAN[3] != "Qh4#" {
		t.Fatalf("bad move log: %v", r.MovesSAN)
	}
}

func TestFlagLossOnTime(t *testing.T) {
	_, _, results := newTestSession(t, func(cfg *Config) {
		cfg.TimeControl = protocol.TimeControl{InitialSeconds: 0, IncrementSeconds: 0}
	})
	r := waitResult(t, results)
	if r.Outcome != protocol.ResultBlackWins || r.Method != protocol.MethodTimeout {
		t.Fatalf("bad result: %+v", r)
	}
}

// A flag against bare mating material is a draw, not a loss.
func TestFlagDrawWithoutMatingMaterial(t *testing.T) {
	_, _, results := newTestSession(t, func(cfg *Config) {
		cfg.TimeControl = protocol.TimeControl{InitialSeconds: 0, IncrementSeconds: 0}
		// black has only king and knight; white to move and flags
		cfg.StartFEN = "k7/8/8/8/8/8/8/K6n w - - 0 1"
	})
	r := waitResult(t, results)
	if r.Outcome != protocol.ResultDraw || r.Method != protocol.MethodTimeout {
		t.Fatalf("bad result: %+v", r)
	}
}

func TestDisconnectPausesAndReconnectResumes(t *testing.T) {
	s, notes, _ := newTestSession(t, nil)

	if err := s.PlayerDisconnected("w1"); err != nil {
		t.Fatal(err)
	}
	st := s.State()
	if st.Status != string(StatusPaused) || st.Clocks.Running != "" {
		t.Fatalf("not paused: %+v", st)
	}
	paused, ok := notes.last("b1").(protocol.GamePaused)
	if !ok || paused.Disconnected != protocol.White || paused.GraceSeconds != 60 {
		t.Fatalf("bad pause notification: %+v", notes.last("b1"))
	}
	if err := s.ApplyMove("w1", "e2e4"); !errors.Is(err, ErrGameNotActive) {
		t.Fatalf("moves should be refused while paused, got %v", err)
	}

	if err := s.PlayerConnected("w1"); err != nil {
		t.Fatal(err)
	}
	st = s.State()
	if st.Status != string(StatusActive) || st.Clocks.Running != protocol.White {
		t.Fatalf("not resumed: %+v", st)
	}
	joined, ok := notes.last("w1").(protocol.GameJoined)
	if !ok {
		t.Fatalf("reconnector should get game_joined, got %T", notes.last("w1"))
	}
	if joined.State.GameID != "g1" || joined.State.Status != string(StatusActive) {
		t.Fatalf("bad rejoin snapshot: %+v", joined.State)
	}
	if _, ok := notes.last("b1").(protocol.GameResumed); !ok {
		t.Fatalf("opponent should get game_resumed, got %T", notes.last("b1"))
	}
}

func TestAbandonForfeits(t *testing.T) {
	s, _, results := newTestSession(t, nil)

	if err := s.PlayerDisconnected("w1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Abandon("w1"); err != nil {
		t.Fatal(err)
	}
	r := waitResult(t, results)
	if r.Outcome != protocol.ResultBlackWins || r.Method != protocol.MethodAbandonment {
		t.Fatalf("bad result: %+v", r)
	}
}

func TestAbandonAfterReconnectIsNoop(t *testing.T) {
	s, _, results := newTestSession(t, nil)

	if err := s.PlayerDisconnected("w1"); err != nil {
		t.Fatal(err)
	}
	if err := s.PlayerConnected("w1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Abandon("w1"); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-results:
		t.Fatalf("game should not finish: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
	if s.State().Status != string(StatusActive) {
		t.Fatal("game should still be active")
	}
}

func TestDrawOfferAcceptDecline(t *testing.T) {
	s, notes, results := newTestSession(t, nil)

	if err := s.OfferDraw("w1"); err != nil {
		t.Fatal(err)
	}
	offer, ok := notes.last("b1").(protocol.DrawOffered)
	if !ok || offer.From != protocol.White {
		t.Fatalf("bad offer notification: %+v", notes.last("b1"))
	}
	// the offerer cannot answer their own offer
	if err := s.RespondDraw("w1", true); !errors.Is(err, ErrNoDrawOffer) {
		t.Fatalf("want ErrNoDrawOffer, got %v", err)
	}
	// decline clears the offer
	if err := s.RespondDraw("b1", false); err != nil {
		t.Fatal(err)
	}
	if err := s.RespondDraw("b1", true); !errors.Is(err, ErrNoDrawOffer) {
		t.Fatalf("offer should be cleared after decline, got %v", err)
	}

	// fresh offer, accepted
	if err := s.OfferDraw("w1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RespondDraw("b1", true); err != nil {
		t.Fatal(err)
	}
	r := waitResult(t, results)
	if r.Outcome != protocol.ResultDraw || r.Method != protocol.MethodDrawAgreed {
		t.Fatalf("bad result: %+v", r)
	}
}

func TestMoveImplicitlyDeclinesOffer(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	if err := s.ApplyMove("w1", "e2e4"); err != nil {
		t.Fatal(err)
	}
	if err := s.OfferDraw("w1"); err != nil {
		t.Fatal(err)
	}
	// recipient moves instead of answering
	if err := s.ApplyMove("b1", "e7e5"); err != nil {
		t.Fatal(err)
	}
	if err := s.RespondDraw("b1", true); !errors.Is(err, ErrNoDrawOffer) {
		t.Fatalf("offer should be implicitly declined, got %v", err)
	}
}

func TestStateSafeWhileClosing(t *testing.T) {
	s, _, results := newTestSession(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.State()
			}
		}()
	}
	if err := s.Resign("w1"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	s.Close()
	wg.Wait()
	waitResult(t, results)

	st := s.State()
	if st.Status != string(StatusCompleted) || st.Result != protocol.ResultBlackWins {
		t.Fatalf("final snapshot lost after close: %+v", st)
	}
}
