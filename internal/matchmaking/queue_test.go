package matchmaking

import (
	"testing"
	"time"

	"github.com/park285/chess-arena-server/pkg/protocol"
)

var blitz = protocol.TimeControl{InitialSeconds: 300, IncrementSeconds: 5}

func waitPair(t *testing.T, ch <-chan Pair) Pair {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no pair produced")
		return Pair{}
	}
}

func TestPairCloseRatings(t *testing.T) {
	pairs := make(chan Pair, 1)
	q := NewQueue(Config{OnPair: func(p Pair) { pairs <- p }})
	defer q.Close()

	if _, err := q.Enqueue("alice", 1200, blitz); err != nil {
		t.Fatalf("enqueue alice: %v", err)
	}
	if _, err := q.Enqueue("bob", 1210, blitz); err != nil {
		t.Fatalf("enqueue bob: %v", err)
	}

	p := waitPair(t, pairs)
	got := map[string]bool{p.White.UserID: true, p.Black.UserID: true}
	if !got["alice"] || !got["bob"] {
		t.Fatalf("wrong players paired: %+v", p)
	}
	if q.Waiting(blitz) != 0 {
		t.Fatalf("partition not drained: %d", q.Waiting(blitz))
	}
}

func TestDifferentControlsNeverPair(t *testing.T) {
	pairs := make(chan Pair, 1)
	q := NewQueue(Config{OnPair: func(p Pair) { pairs <- p }})
	defer q.Close()

	rapid := protocol.TimeControl{InitialSeconds: 600, IncrementSeconds: 10}
	if _, err := q.Enqueue("alice", 1200, blitz); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue("bob", 1200, rapid); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-pairs:
		t.Fatalf("unexpected pair across controls: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
	if q.Waiting(blitz) != 1 || q.Waiting(rapid) != 1 {
		t.Fatal("tickets should still be waiting")
	}
}

func TestWindowWidens(t *testing.T) {
	pairs := make(chan Pair, 1)
	q := NewQueue(Config{OnPair: func(p Pair) { pairs <- p }})
	defer q.Close()

	// gap 250 exceeds the initial window of 100
	if _, err := q.Enqueue("alice", 1200, blitz); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue("bob", 1450, blitz); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-pairs:
		t.Fatalf("paired before window widened: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}

	// three widening steps bring both windows to 250
	q.sweep(time.Now().Add(16 * time.Second))
	waitPair(t, pairs)
}

func TestQueueTimeout(t *testing.T) {
	timedOut := make(chan Ticket, 1)
	q := NewQueue(Config{OnTimeout: func(tk Ticket) { timedOut <- tk }})
	defer q.Close()

	if _, err := q.Enqueue("alice", 1200, blitz); err != nil {
		t.Fatal(err)
	}
	q.sweep(time.Now().Add(91 * time.Second))

	select {
	case tk := <-timedOut:
		if tk.UserID != "alice" {
			t.Fatalf("wrong ticket timed out: %+v", tk)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout callback not fired")
	}
	if q.Waiting(blitz) != 0 {
		t.Fatal("expired ticket still queued")
	}
}

func TestDuplicateAndBusy(t *testing.T) {
	q := NewQueue(Config{Busy: func(userID string) bool { return userID == "carol" }})
	defer q.Close()

	if _, err := q.Enqueue("alice", 1200, blitz); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue("alice", 1200, blitz); err != ErrDuplicateTicket {
		t.Fatalf("want ErrDuplicateTicket, got %v", err)
	}
	if _, err := q.Enqueue("carol", 1200, blitz); err != ErrPlayerBusy {
		t.Fatalf("want ErrPlayerBusy, got %v", err)
	}
	if _, err := q.Enqueue("", 1200, blitz); err != ErrInvalidArgs {
		t.Fatalf("want ErrInvalidArgs, got %v", err)
	}
	if _, err := q.Enqueue("dave", 1200, protocol.TimeControl{}); err != ErrInvalidControl {
		t.Fatalf("want ErrInvalidControl, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	q := NewQueue(Config{})
	defer q.Close()

	if _, err := q.Enqueue("alice", 1200, blitz); err != nil {
		t.Fatal(err)
	}
	q.Withdraw("alice")
	if q.Waiting(blitz) != 0 {
		t.Fatal("ticket still queued after withdraw")
	}
	// absent user is a no-op
	q.Withdraw("nobody")

	// re-enqueue works after withdraw
	if _, err := q.Enqueue("alice", 1200, blitz); err != nil {
		t.Fatalf("re-enqueue after withdraw: %v", err)
	}
}

func TestColorAlternation(t *testing.T) {
	pairs := make(chan Pair, 2)
	q := NewQueue(Config{OnPair: func(p Pair) { pairs <- p }})
	defer q.Close()

	if _, err := q.Enqueue("alice", 1200, blitz); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue("bob", 1200, blitz); err != nil {
		t.Fatal(err)
	}
	first := waitPair(t, pairs)

	if _, err := q.Enqueue("alice", 1200, blitz); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue("bob", 1200, blitz); err != nil {
		t.Fatal(err)
	}
	second := waitPair(t, pairs)

	if first.White.UserID == second.White.UserID {
		t.Fatalf("colors did not alternate: %s had white twice", first.White.UserID)
	}
}

func TestQueuedCallbackPrecedesPair(t *testing.T) {
	var order []string
	q := NewQueue(Config{
		OnQueued: func(tk Ticket) { order = append(order, "queued:"+tk.UserID) },
		OnPair:   func(p Pair) { order = append(order, "paired") },
	})
	defer q.Close()

	// Both callbacks run on the Enqueue caller's goroutine, so order is
	// safe to read once the second Enqueue returns.
	if _, err := q.Enqueue("alice", 1200, blitz); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue("bob", 1210, blitz); err != nil {
		t.Fatal(err)
	}

	want := []string{"queued:alice", "queued:bob", "paired"}
	if len(order) != len(want) {
		t.Fatalf("callback order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("callback order %v, want %v", order, want)
		}
	}
}
