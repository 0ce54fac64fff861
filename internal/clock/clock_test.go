package clock

import (
	"testing"
	"time"
)

func TestStopAddsIncrement(t *testing.T) {
	c := New(10*time.Second, 2*time.Second)
	c.Start()
	time.Sleep(20 * time.Millisecond)
	elapsed := c.Stop()
	if elapsed <= 0 {
		t.Fatalf("expected positive elapsed, got %v", elapsed)
	}
	rem := c.Remaining()
	if rem <= 10*time.Second || rem > 12*time.Second {
		t.Fatalf("expected remaining in (10s,12s] after increment, got %v", rem)
	}
	if c.Running() {
		t.Fatalf("clock should be stopped")
	}
}

func TestPauseDoesNotAddIncrement(t *testing.T) {
	c := New(10*time.Second, 5*time.Second)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Pause()
	if rem := c.Remaining(); rem >= 10*time.Second {
		t.Fatalf("expected remaining below initial after pause, got %v", rem)
	}
}

func TestRemainingDecreasesWhileRunning(t *testing.T) {
	c := New(time.Second, 0)
	c.Start()
	first := c.Remaining()
	time.Sleep(15 * time.Millisecond)
	second := c.Remaining()
	if second >= first {
		t.Fatalf("remaining did not decrease: %v then %v", first, second)
	}
}

func TestExpired(t *testing.T) {
	c := New(5*time.Millisecond, 0)
	if c.Expired() {
		t.Fatalf("fresh clock must not be expired")
	}
	c.Start()
	time.Sleep(15 * time.Millisecond)
	if !c.Expired() {
		t.Fatalf("clock should have expired")
	}
	if c.Remaining() != 0 {
		t.Fatalf("expired clock must report zero remaining, got %v", c.Remaining())
	}
}

func TestStartIsIdempotent(t *testing.T) {
	c := New(time.Second, 0)
	c.Start()
	since := c.runningSince
	c.Start()
	if c.runningSince != since {
		t.Fatalf("second Start must not reset the countdown origin")
	}
}
