package stimer

import (
	"sync"
	"time"
)

// Clock reports the current time. Timers are only evaluated when polled.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Timer is a soft timer: it does not fire, it is asked whether it has
// expired.
type Timer struct {
	clock    Clock
	start    time.Time
	interval time.Duration
}

// New returns an expired timer bound to the given clock.
func New(clock Clock) Timer {
	if clock == nil {
		clock = SystemClock
	}
	return Timer{clock: clock, start: clock.Now()}
}

// Set restarts the timer with the given interval. An interval of zero leaves
// the timer already expired.
func (t *Timer) Set(interval time.Duration) {
	if t.clock == nil {
		t.clock = SystemClock
	}
	t.start = t.clock.Now()
	t.interval = interval
}

func (t *Timer) Expired() bool {
	return t.Remaining() == 0
}

// Remaining returns the time left before expiry, or zero once expired.
func (t *Timer) Remaining() time.Duration {
	if t.clock == nil {
		return 0
	}
	left := t.interval - t.clock.Now().Sub(t.start)
	if left < 0 {
		return 0
	}
	return left
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Unix(1_000_000, 0)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
