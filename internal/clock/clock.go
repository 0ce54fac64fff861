package clock

import "time"

// Clock is a per-player countdown with increment-on-move. It relies on the
// monotonic reading carried by time.Time, so wall-clock adjustments cannot
// skew it. Not safe for concurrent use: a Clock is owned by its game
// session and touched only from the session's event loop.
type Clock struct {
	remaining    time.Duration
	increment    time.Duration
	runningSince time.Time // zero while stopped
}

func New(initial, increment time.Duration) *Clock {
	return &Clock{remaining: initial, increment: increment}
}

// Start begins (or resumes) the countdown. No-op if already running.
func (c *Clock) Start() {
	if c.runningSince.IsZero() {
		c.runningSince = time.Now()
	}
}

// Stop halts the countdown after a completed move: elapsed time is deducted
// and the configured increment added. Returns the elapsed think time.
func (c *Clock) Stop() time.Duration {
	elapsed := c.freeze()
	if elapsed > 0 {
		c.remaining += c.increment
	}
	return elapsed
}

// Pause halts the countdown without adding increment. Used when the game
// pauses on a disconnect; the move was not completed.
func (c *Clock) Pause() time.Duration {
	return c.freeze()
}

func (c *Clock) freeze() time.Duration {
	if c.runningSince.IsZero() {
		return 0
	}
	elapsed := time.Since(c.runningSince)
	c.remaining -= elapsed
	if c.remaining < 0 {
		c.remaining = 0
	}
	c.runningSince = time.Time{}
	return elapsed
}

// Remaining reports time left, accounting for an in-flight countdown.
func (c *Clock) Remaining() time.Duration {
	if c.runningSince.IsZero() {
		return c.remaining
	}
	left := c.remaining - time.Since(c.runningSince)
	if left < 0 {
		return 0
	}
	return left
}

func (c *Clock) Running() bool { return !c.runningSince.IsZero() }

func (c *Clock) Expired() bool { return c.Remaining() <= 0 }
