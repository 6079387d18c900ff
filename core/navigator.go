package core

import (
	"context"
	"sync"

	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

// NavigationSink receives navigator changes.
type NavigationSink interface {
	OnNavigationEvent(event schema.NavigationEvent)
}

// NavigatorOptions configures a Navigator.
type NavigatorOptions struct {
	// Tabs limits the navigator to a subset of schema.AllTabs. Empty means all.
	Tabs   []schema.TabID
	Sink   NavigationSink
	Logger pslog.Logger
}

// Navigator is the single owner of every tab's navigation path, the preserved
// tab set and the global reset trigger.
//
// A reset is applied to a tab when that tab is next settled: by its
// subscription's Sync, or by any Navigator call that reads or mutates the tab.
// Settling a tab whose last applied trigger is behind the current one clears
// its path, unless the tab is preserved, in which case the path is kept and the
// preservation is consumed. Several triggers between two settles are applied
// once.
//
// Sink events are queued under the navigator lock and delivered by one caller
// at a time, so the sink sees them in the order the mutations were applied.
// Under contention an event may be delivered by a concurrent caller after the
// call that produced it has returned.
type Navigator struct {
	mu       sync.Mutex
	order    []schema.TabID
	tabs     map[schema.TabID]*navTab
	trigger  uint64
	subs     map[*Subscription]struct{}
	sink     NavigationSink
	pending  []schema.NavigationEvent
	draining bool
	log      pslog.Logger
}

type navTab struct {
	path      []schema.Destination
	preserved bool
	applied   uint64
	// keptAt is the trigger whose reset was absorbed by preservation.
	keptAt uint64
}

// NewNavigator constructs a Navigator with every tab at its root.
func NewNavigator(opts NavigatorOptions) (*Navigator, error) {
	tabs := opts.Tabs
	if len(tabs) == 0 {
		tabs = schema.AllTabs
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	n := &Navigator{
		order: make([]schema.TabID, 0, len(tabs)),
		tabs:  make(map[schema.TabID]*navTab, len(tabs)),
		subs:  make(map[*Subscription]struct{}),
		sink:  opts.Sink,
		log:   logger,
	}
	for _, tab := range tabs {
		if !tab.Valid() {
			return nil, schema.ErrInvalidTab
		}
		if _, dup := n.tabs[tab]; dup {
			continue
		}
		n.order = append(n.order, tab)
		n.tabs[tab] = &navTab{}
	}
	return n, nil
}

// Tabs returns the managed tabs in display order.
func (n *Navigator) Tabs() []schema.TabID {
	return append([]schema.TabID(nil), n.order...)
}

// Push appends dest to the tab's path.
func (n *Navigator) Push(tab schema.TabID, dest schema.Destination) error {
	dest, err := schema.NormalizeDestination(dest)
	if err != nil {
		return err
	}
	n.mu.Lock()
	state, err := n.settledLocked(tab)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	state.path = append(state.path, dest)
	event := n.eventLocked(schema.NavigationPushed, tab, state)
	n.deliverAndUnlock()
	n.log.Debug("navigator push", "tab", tab, "kind", dest.Kind, "ref", dest.Ref, "depth", len(event.Path))
	return nil
}

// Pop removes the top destination of the tab's path. ok is false when the tab
// is already at its root.
func (n *Navigator) Pop(tab schema.TabID) (dest schema.Destination, ok bool, err error) {
	n.mu.Lock()
	state, err := n.settledLocked(tab)
	if err != nil {
		n.mu.Unlock()
		return schema.Destination{}, false, err
	}
	if len(state.path) == 0 {
		n.mu.Unlock()
		return schema.Destination{}, false, nil
	}
	dest = state.path[len(state.path)-1]
	state.path = state.path[:len(state.path)-1]
	event := n.eventLocked(schema.NavigationPopped, tab, state)
	n.deliverAndUnlock()
	n.log.Debug("navigator pop", "tab", tab, "kind", dest.Kind, "depth", len(event.Path))
	return dest, true, nil
}

// PopIf removes the top destination only when it equals dest.
func (n *Navigator) PopIf(tab schema.TabID, dest schema.Destination) (bool, error) {
	n.mu.Lock()
	state, err := n.settledLocked(tab)
	if err != nil {
		n.mu.Unlock()
		return false, err
	}
	if len(state.path) == 0 || state.path[len(state.path)-1] != dest {
		n.mu.Unlock()
		return false, nil
	}
	state.path = state.path[:len(state.path)-1]
	n.eventLocked(schema.NavigationPopped, tab, state)
	n.deliverAndUnlock()
	return true, nil
}

// PopToRoot clears the tab's path.
func (n *Navigator) PopToRoot(tab schema.TabID) error {
	n.mu.Lock()
	state, err := n.settledLocked(tab)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	state.path = nil
	n.eventLocked(schema.NavigationRoot, tab, state)
	n.deliverAndUnlock()
	n.log.Debug("navigator pop to root", "tab", tab)
	return nil
}

// Preserve exempts the tab from the next reset. Idempotent.
func (n *Navigator) Preserve(tab schema.TabID) error {
	return n.setPreserved(tab, true)
}

// Unpreserve removes the tab from the preserved set. Idempotent.
func (n *Navigator) Unpreserve(tab schema.TabID) error {
	return n.setPreserved(tab, false)
}

func (n *Navigator) setPreserved(tab schema.TabID, preserved bool) error {
	n.mu.Lock()
	state, err := n.settledLocked(tab)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	if state.preserved == preserved {
		n.mu.Unlock()
		return nil
	}
	state.preserved = preserved
	kind := schema.NavigationUnpreserved
	if preserved {
		kind = schema.NavigationPreserved
	}
	n.eventLocked(kind, tab, state)
	n.deliverAndUnlock()
	n.log.Debug("navigator preserve", "tab", tab, "preserved", preserved)
	return nil
}

// TriggerGlobalReset starts a "return to home" and returns the new trigger value.
func (n *Navigator) TriggerGlobalReset() uint64 {
	n.mu.Lock()
	n.trigger++
	trigger := n.trigger
	n.enqueueLocked(schema.NavigationEvent{Type: schema.NavigationReset, Trigger: trigger}, "")
	n.deliverAndUnlock()
	n.log.Info("navigator reset", "trigger", trigger)
	return trigger
}

// ResetTrigger returns the current trigger value.
func (n *Navigator) ResetTrigger() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.trigger
}

// CurrentPath returns a copy of the tab's path.
func (n *Navigator) CurrentPath(tab schema.TabID) ([]schema.Destination, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	state, err := n.settledLocked(tab)
	if err != nil {
		return nil, err
	}
	return copyPath(state.path), nil
}

// IsPreserved reports whether the tab is exempt from the next reset.
func (n *Navigator) IsPreserved(tab schema.TabID) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	state, err := n.settledLocked(tab)
	if err != nil {
		return false, err
	}
	return state.preserved, nil
}

// Tab returns a snapshot of one tab.
func (n *Navigator) Tab(tab schema.TabID) (schema.TabSnapshot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	state, err := n.settledLocked(tab)
	if err != nil {
		return schema.TabSnapshot{}, err
	}
	return schema.TabSnapshot{ID: tab, Path: copyPath(state.path), Preserved: state.preserved}, nil
}

// Snapshot settles every tab and returns the navigator state.
func (n *Navigator) Snapshot() schema.NavigationSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := schema.NavigationSnapshot{Tabs: make([]schema.TabSnapshot, 0, len(n.order)), Trigger: n.trigger}
	for _, tab := range n.order {
		state, _ := n.settledLocked(tab)
		out.Tabs = append(out.Tabs, schema.TabSnapshot{ID: tab, Path: copyPath(state.path), Preserved: state.preserved})
	}
	return out
}

// Restore replaces the navigator state with a snapshot. Unknown tabs in the
// snapshot are skipped; tabs missing from it return to their root.
func (n *Navigator) Restore(snapshot schema.NavigationSnapshot) {
	n.mu.Lock()
	n.trigger = snapshot.Trigger
	for _, state := range n.tabs {
		*state = navTab{applied: n.trigger}
	}
	restored := 0
	for _, tab := range snapshot.Tabs {
		state := n.tabs[tab.ID]
		if state == nil {
			continue
		}
		path := make([]schema.Destination, 0, len(tab.Path))
		for _, dest := range tab.Path {
			if normalized, err := schema.NormalizeDestination(dest); err == nil {
				path = append(path, normalized)
			}
		}
		state.path = path
		state.preserved = tab.Preserved
		restored++
	}
	for sub := range n.subs {
		sub.seen = n.trigger
	}
	n.notifyLocked("")
	n.mu.Unlock()
	n.log.Debug("navigator restore", "tabs", restored, "trigger", snapshot.Trigger)
}

// settledLocked applies any pending reset to the tab and returns its state.
func (n *Navigator) settledLocked(tab schema.TabID) (*navTab, error) {
	state := n.tabs[tab]
	if state == nil {
		return nil, schema.ErrInvalidTab
	}
	if state.applied == n.trigger {
		return state, nil
	}
	if state.preserved {
		state.preserved = false
		state.keptAt = n.trigger
		n.log.Debug("navigator reset kept preserved tab", "tab", tab, "trigger", n.trigger, "depth", len(state.path))
	} else {
		state.path = nil
	}
	state.applied = n.trigger
	return state, nil
}

// eventLocked builds the event for a mutation of tab and queues it.
func (n *Navigator) eventLocked(kind schema.NavigationEventType, tab schema.TabID, state *navTab) schema.NavigationEvent {
	event := schema.NavigationEvent{Type: kind, Tab: tab, Path: copyPath(state.path), Trigger: n.trigger}
	n.enqueueLocked(event, tab)
	return event
}

func (n *Navigator) enqueueLocked(event schema.NavigationEvent, tab schema.TabID) {
	n.notifyLocked(tab)
	if n.sink != nil {
		n.pending = append(n.pending, event)
	}
}

// deliverAndUnlock releases n.mu after handing queued events to the sink.
// Only one caller drains at a time; others leave their events in the queue.
func (n *Navigator) deliverAndUnlock() {
	if n.draining || len(n.pending) == 0 {
		n.mu.Unlock()
		return
	}
	n.draining = true
	for len(n.pending) > 0 {
		batch := n.pending
		n.pending = nil
		n.mu.Unlock()
		for _, event := range batch {
			n.sink.OnNavigationEvent(event)
		}
		n.mu.Lock()
	}
	n.draining = false
	n.mu.Unlock()
}

// notifyLocked wakes subscribers of tab, or all subscribers when tab is empty.
// Sends never block, and Close removes a subscription under the same lock
// before closing its channel.
func (n *Navigator) notifyLocked(tab schema.TabID) {
	for sub := range n.subs {
		if tab == "" || sub.tab == tab {
			sub.notify()
		}
	}
}

func copyPath(path []schema.Destination) []schema.Destination {
	if len(path) == 0 {
		return []schema.Destination{}
	}
	return append([]schema.Destination(nil), path...)
}

// TabView is what a tab-root view observes on Sync.
type TabView struct {
	Tab       schema.TabID
	Path      []schema.Destination
	Preserved bool
	Trigger   uint64
	// Reset is true when a reset happened since the previous Sync.
	Reset bool
	// Kept is true when that reset left the path intact because the tab was preserved.
	Kept bool
}

// Subscription observes one tab of a Navigator.
type Subscription struct {
	nav  *Navigator
	tab  schema.TabID
	ch   chan struct{}
	seen uint64
	once sync.Once
}

// Subscribe registers an observer for tab. Resets that happened before the
// subscription are not reported.
func (n *Navigator) Subscribe(tab schema.TabID) (*Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.settledLocked(tab); err != nil {
		return nil, err
	}
	sub := &Subscription{nav: n, tab: tab, ch: make(chan struct{}, 1), seen: n.trigger}
	n.subs[sub] = struct{}{}
	n.log.Debug("navigator subscribe", "tab", tab, "subs", len(n.subs))
	return sub, nil
}

// Tab returns the observed tab.
func (s *Subscription) Tab() schema.TabID {
	return s.tab
}

// C receives a value whenever the tab may have changed. Notifications coalesce:
// a reader that falls behind sees one pending value, not a queue.
func (s *Subscription) C() <-chan struct{} {
	return s.ch
}

func (s *Subscription) notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Sync settles the tab and returns its current view. Reset reports at most one
// reset no matter how many triggers fired since the previous Sync.
func (s *Subscription) Sync() TabView {
	n := s.nav
	n.mu.Lock()
	defer n.mu.Unlock()
	state, err := n.settledLocked(s.tab)
	if err != nil {
		return TabView{Tab: s.tab}
	}
	view := TabView{
		Tab:       s.tab,
		Path:      copyPath(state.path),
		Preserved: state.preserved,
		Trigger:   n.trigger,
	}
	if s.seen != n.trigger {
		view.Reset = true
		view.Kept = state.keptAt == n.trigger
		s.seen = n.trigger
	}
	return view
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.nav.mu.Lock()
		delete(s.nav.subs, s)
		close(s.ch)
		s.nav.mu.Unlock()
	})
}
