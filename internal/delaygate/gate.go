// Package delaygate provides a one-shot timed gate that opens after a fixed delay.
//
// A gate is created closed, started once, and stays open forever after the delay
// elapses. It cannot be restarted or cancelled; an owner that no longer needs it
// simply drops it.
package delaygate

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/carspot/internal/clock"
)

// ErrAlreadyStarted is returned when Start is called twice on the same gate.
var ErrAlreadyStarted = errors.New("delay gate already started")

// Gate flips from closed to open once its delay has elapsed.
type Gate struct {
	clock   clock.Clock
	mu      sync.Mutex
	started bool
	start   time.Time
	delay   time.Duration
	done    chan struct{}
	once    sync.Once
}

// New returns a closed, unstarted gate. A nil clock uses wall time.
func New(c clock.Clock) *Gate {
	if c == nil {
		c = clock.Real()
	}
	return &Gate{clock: c, done: make(chan struct{})}
}

// Start begins the delay. It may be called once.
func (g *Gate) Start(delay time.Duration) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return ErrAlreadyStarted
	}
	g.started = true
	g.start = g.clock.Now()
	g.delay = delay
	g.mu.Unlock()
	if delay <= 0 {
		g.open()
		return nil
	}
	g.clock.AfterFunc(delay, g.open)
	return nil
}

func (g *Gate) open() {
	g.once.Do(func() { close(g.done) })
}

// Started reports whether Start has been called.
func (g *Gate) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// IsOpen reports whether the delay has elapsed since Start.
func (g *Gate) IsOpen() bool {
	select {
	case <-g.done:
		return true
	default:
	}
	g.mu.Lock()
	started, start, delay := g.started, g.start, g.delay
	g.mu.Unlock()
	if !started {
		return false
	}
	if g.clock.Now().Sub(start) >= delay {
		g.open()
		return true
	}
	return false
}

// Remaining reports how long until the gate opens. Zero once open; the full
// delay is unknown before Start, in which case it reports -1.
func (g *Gate) Remaining() time.Duration {
	if g.IsOpen() {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return -1
	}
	return g.delay - g.clock.Now().Sub(g.start)
}

// Done returns a channel closed when the gate opens.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	if g.IsOpen() {
		return nil
	}
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
