package core

import (
	"context"
	"sync"

	"pkt.systems/carspot/schema"
)

// TabRoot is the state a tab-root view renders from. Its "showing a sub-screen"
// flags are derived from the navigator path rather than kept alongside it, so a
// reset that clears the path clears the flags with it.
type TabRoot struct {
	sub  *Subscription
	mu   sync.Mutex
	view TabView
}

// NewTabRoot subscribes to tab and loads its current view.
func NewTabRoot(nav *Navigator, tab schema.TabID) (*TabRoot, error) {
	sub, err := nav.Subscribe(tab)
	if err != nil {
		return nil, err
	}
	r := &TabRoot{sub: sub}
	r.view = sub.Sync()
	return r, nil
}

// Tab returns the tab this root renders.
func (r *TabRoot) Tab() schema.TabID {
	return r.sub.Tab()
}

// Changes fires when Refresh may return something new.
func (r *TabRoot) Changes() <-chan struct{} {
	return r.sub.C()
}

// Refresh re-reads the navigator and returns the new view.
func (r *TabRoot) Refresh() TabView {
	view := r.sub.Sync()
	r.mu.Lock()
	r.view = view
	r.mu.Unlock()
	return view
}

// View returns the last refreshed view.
func (r *TabRoot) View() TabView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Showing reports whether a destination of kind is on the path.
func (r *TabRoot) Showing(kind schema.DestinationKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dest := range r.view.Path {
		if dest.Kind == kind {
			return true
		}
	}
	return false
}

// AtRoot reports whether the tab shows its root screen.
func (r *TabRoot) AtRoot() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.view.Path) == 0
}

// Top returns the visible destination, if any.
func (r *TabRoot) Top() (schema.Destination, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.view.Path) == 0 {
		return schema.Destination{}, false
	}
	return r.view.Path[len(r.view.Path)-1], true
}

// Watch calls fn with each refreshed view until ctx is done or the root is closed.
func (r *TabRoot) Watch(ctx context.Context, fn func(TabView)) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-r.sub.C():
			if !ok {
				return
			}
			fn(r.Refresh())
		}
	}
}

// Close stops observing the navigator.
func (r *TabRoot) Close() {
	r.sub.Close()
}
