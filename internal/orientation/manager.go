// Package orientation keeps the process-wide stack of display orientation locks.
//
// The effective orientation is the most recent outstanding lock, or
// schema.OrientationAll when no lock is held. Locks are scoped: Lock returns a
// Guard and every owner releases its guard on all exit paths.
package orientation

import (
	"context"
	"sync"

	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

// Sink receives effective orientation changes.
type Sink interface {
	OnOrientation(event schema.OrientationEvent)
}

// Options configures a Manager.
type Options struct {
	// Strict rejects releases that are not the top of the stack.
	Strict bool
	Sink   Sink
	Logger pslog.Logger
}

// Manager is a stack of orientation lock requests.
type Manager struct {
	mu     sync.Mutex
	stack  []*Guard
	nextID uint64
	strict bool
	sink   Sink
	log    pslog.Logger
}

// Guard is the release handle for one lock request.
type Guard struct {
	id          uint64
	orientation schema.Orientation
	owner       string
	mgr         *Manager
	mu          sync.Mutex
	released    bool
}

// New constructs a Manager.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{strict: opts.Strict, sink: opts.Sink, log: logger}
}

// Lock pushes a request for o and returns its guard.
func (m *Manager) Lock(o schema.Orientation, owner string) *Guard {
	m.mu.Lock()
	m.nextID++
	g := &Guard{id: m.nextID, orientation: o, owner: owner, mgr: m}
	prev := m.currentLocked()
	m.stack = append(m.stack, g)
	depth := len(m.stack)
	m.mu.Unlock()
	m.log.Debug("orientation lock", "orientation", o, "owner", owner, "depth", depth)
	if prev != o {
		m.notify(o, depth)
	}
	return g
}

// Release pops g. Releasing anything but the top is an unbalanced release: in
// strict mode it fails, otherwise g is removed by identity and a warning logged.
// Releasing a guard twice, or one from another manager, always fails.
func (m *Manager) Release(g *Guard) error {
	if g == nil || g.mgr != m {
		return schema.ErrUnbalancedLock
	}
	m.mu.Lock()
	idx := -1
	for i := len(m.stack) - 1; i >= 0; i-- {
		if m.stack[i] == g {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		m.log.Warn("orientation release unknown", "owner", g.owner)
		return schema.ErrUnbalancedLock
	}
	top := idx == len(m.stack)-1
	if !top && m.strict {
		m.mu.Unlock()
		m.log.Warn("orientation release out of order", "owner", g.owner, "depth", len(m.stack))
		return schema.ErrUnbalancedLock
	}
	prev := m.currentLocked()
	m.stack = append(m.stack[:idx], m.stack[idx+1:]...)
	cur := m.currentLocked()
	depth := len(m.stack)
	m.mu.Unlock()
	if !top {
		m.log.Warn("orientation release out of order tolerated", "owner", g.owner, "depth", depth)
	}
	m.log.Debug("orientation unlock", "orientation", g.orientation, "owner", g.owner, "depth", depth)
	if prev != cur {
		m.notify(cur, depth)
	}
	return nil
}

// Evict removes g wherever it sits in the stack, even in strict mode. It is
// the recovery for a guard whose owner ended after a refused release, and
// reports whether g was still outstanding.
func (m *Manager) Evict(g *Guard) bool {
	if g == nil || g.mgr != m {
		return false
	}
	m.mu.Lock()
	idx := -1
	for i, held := range m.stack {
		if held == g {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	prev := m.currentLocked()
	m.stack = append(m.stack[:idx], m.stack[idx+1:]...)
	cur := m.currentLocked()
	depth := len(m.stack)
	m.mu.Unlock()
	m.log.Warn("orientation lock evicted", "orientation", g.orientation, "owner", g.owner, "depth", depth)
	if prev != cur {
		m.notify(cur, depth)
	}
	return true
}

// Current returns the effective orientation.
func (m *Manager) Current() schema.Orientation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked()
}

// Depth returns the number of outstanding locks.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

func (m *Manager) currentLocked() schema.Orientation {
	if len(m.stack) == 0 {
		return schema.OrientationAll
	}
	return m.stack[len(m.stack)-1].orientation
}

func (m *Manager) notify(o schema.Orientation, depth int) {
	if m.sink == nil {
		return
	}
	m.sink.OnOrientation(schema.OrientationEvent{Orientation: o, Depth: depth})
}

// Orientation returns the orientation this guard requested.
func (g *Guard) Orientation() schema.Orientation {
	return g.orientation
}

// Release returns the guard to its manager. Once a release succeeds later
// calls are no-ops. A refused release leaves the guard outstanding, so it can
// be released again or evicted.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil
	}
	if err := g.mgr.Release(g); err != nil {
		return err
	}
	g.released = true
	return nil
}

// Evict removes the guard from its manager regardless of stack position.
func (g *Guard) Evict() bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return false
	}
	g.released = true
	return g.mgr.Evict(g)
}
