package session

import (
	"sync"
	"time"
)

// Ticker is the subset of *time.Ticker the session needs. Tests substitute a
// channel they drive by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Clock counts a session's remaining seconds down once per second.
// onTick fires after every decrement and onExpire fires exactly once when the
// counter reaches zero, after which the clock stops itself.
type Clock struct {
	newTicker TickerFunc

	mu        sync.Mutex
	started   bool
	stopped   bool
	paused    bool
	remaining int
	onTick    func(remaining int)
	onExpire  func()

	stop     chan struct{}
	stopOnce sync.Once
}

// NewClock returns a stopped clock. A nil factory uses a real ticker.
func NewClock(newTicker TickerFunc) *Clock {
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	return &Clock{
		newTicker: newTicker,
		stop:      make(chan struct{}),
	}
}

// Start begins the countdown. A clock can be started once.
func (c *Clock) Start(durationSeconds int, onTick func(remaining int), onExpire func()) error {
	if durationSeconds <= 0 {
		return ErrInvalidDuration
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrClockStarted
	}
	c.started = true
	c.remaining = durationSeconds
	c.onTick = onTick
	c.onExpire = onExpire
	c.mu.Unlock()

	t := c.newTicker(time.Second)
	go c.run(t)
	return nil
}

func (c *Clock) run(t Ticker) {
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C():
			if c.tick() {
				return
			}
		}
	}
}

// tick applies one decrement and reports whether the clock has expired.
// Callbacks run outside the lock.
func (c *Clock) tick() bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return true
	}
	if c.paused {
		c.mu.Unlock()
		return false
	}

	c.remaining--
	remaining := c.remaining
	expired := remaining <= 0
	if expired {
		c.stopped = true
	}
	onTick, onExpire := c.onTick, c.onExpire
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired && onExpire != nil {
		onExpire()
	}
	return expired
}

// Pause freezes the counter without resetting it.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume continues a paused countdown.
func (c *Clock) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Stop halts the clock. Safe to call any number of times.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stop) })
}

// Remaining returns the seconds left.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Paused reports whether the countdown is frozen.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}
