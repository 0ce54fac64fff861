package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientDispatch(t *testing.T) {
	env := Envelope{
		Type: "make_move",
		Data: json.RawMessage(`{"game_id":"g1","move":"e2e4"}`),
	}
	ev, err := DecodeClient(env)
	if err != nil {
		t.Fatalf("DecodeClient: %v", err)
	}
	mv, ok := ev.(MakeMove)
	if !ok {
		t.Fatalf("expected MakeMove, got %T", ev)
	}
	if mv.GameID != "g1" || mv.Move != "e2e4" {
		t.Fatalf("bad payload: %+v", mv)
	}
}

func TestDecodeClientUnknownType(t *testing.T) {
	_, err := DecodeClient(Envelope{Type: "teleport_pieces"})
	var unknown ErrUnknownEvent
	if !errors.As(err, &unknown) {
		t.Fatalf("want ErrUnknownEvent, got %v", err)
	}
	if unknown.Type != "teleport_pieces" {
		t.Fatalf("bad type in error: %q", unknown.Type)
	}
}

func TestDecodeClientBadPayload(t *testing.T) {
	_, err := DecodeClient(Envelope{
		Type: "make_move",
		Data: json.RawMessage(`{"game_id":42}`),
	})
	if err == nil {
		t.Fatal("expected decode error for wrong field type")
	}
}

func TestEncodeServerNames(t *testing.T) {
	cases := []struct {
		ev   ServerEvent
		name string
	}{
		{Authenticated{UserID: "u1", Rating: 1200}, "authenticated"},
		{MoveMade{GameID: "g1"}, "move_made"},
		{MoveRejected{GameID: "g1", Reason: RejectNotYourTurn}, "move_rejected"},
		{GameOver{GameID: "g1", Result: ResultDraw}, "game_over"},
		{GamePaused{GameID: "g1", Disconnected: White}, "game_paused"},
	}
	for _, c := range cases {
		env, err := EncodeServer(c.ev)
		if err != nil {
			t.Fatalf("EncodeServer(%T): %v", c.ev, err)
		}
		if env.Type != c.name {
			t.Errorf("EncodeServer(%T).Type = %q, want %q", c.ev, env.Type, c.name)
		}
		if len(env.Data) == 0 {
			t.Errorf("EncodeServer(%T) has empty data", c.ev)
		}
	}
}

func TestTimeControlClass(t *testing.T) {
	cases := []struct {
		tc   TimeControl
		want string
	}{
		{TimeControl{InitialSeconds: 60, IncrementSeconds: 0}, "bullet"},
		{TimeControl{InitialSeconds: 300, IncrementSeconds: 5}, "blitz"},
		{TimeControl{InitialSeconds: 600, IncrementSeconds: 10}, "rapid"},
		{TimeControl{InitialSeconds: 1800, IncrementSeconds: 30}, "classical"},
	}
	for _, c := range cases {
		if got := c.tc.Class(); got != c.want {
			t.Errorf("%s.Class() = %q, want %q", c.tc, got, c.want)
		}
	}
}
