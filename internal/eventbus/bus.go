package eventbus

import (
	"context"
	"sync"

	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventNavigation carries navigator changes.
	EventNavigation EventType = "navigation"
	// EventCapture carries capture session changes.
	EventCapture EventType = "capture"
	// EventOrientation carries effective orientation changes.
	EventOrientation EventType = "orientation"
)

// Event represents a UI-facing event emitted by the core service.
type Event struct {
	Type        EventType
	Navigation  schema.NavigationEvent
	Capture     schema.CaptureEvent
	Orientation schema.OrientationEvent
}

// Filter narrows a subscription. Zero fields match everything.
type Filter struct {
	// Tab limits navigation events to one tab. Resets always match.
	Tab schema.TabID
	// Session limits capture events to one session.
	Session schema.SessionID
}

// Match reports whether the filter selects event.
func (f Filter) Match(event Event) bool {
	switch event.Type {
	case EventNavigation:
		return f.Tab == "" || event.Navigation.Type == schema.NavigationReset || event.Navigation.Tab == f.Tab
	case EventCapture:
		return f.Session == "" || event.Capture.Session.SessionID == f.Session
	default:
		return true
	}
}

// Bus fanouts events to filtered subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]Filter
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Event]Filter),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber and returns a channel + cancel.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = filter
	count := len(b.subs)
	b.mu.Unlock()
	b.log.Debug("eventbus subscribe", "subs", count, "tab", filter.Tab, "session", filter.Session)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
			b.log.Debug("eventbus unsubscribe")
		})
	}
}

// OnNavigationEvent publishes a navigation event.
func (b *Bus) OnNavigationEvent(event schema.NavigationEvent) {
	b.publish(Event{Type: EventNavigation, Navigation: event})
}

// OnCaptureEvent publishes a capture event.
func (b *Bus) OnCaptureEvent(event schema.CaptureEvent) {
	b.publish(Event{Type: EventCapture, Capture: event})
}

// OnOrientationEvent publishes an orientation event.
func (b *Bus) OnOrientationEvent(event schema.OrientationEvent) {
	b.publish(Event{Type: EventOrientation, Orientation: event})
}

// publish sends under the lock so a concurrent cancel cannot close a channel
// mid-send. Sends never block; a full subscriber loses the event.
func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	dropped := 0
	b.mu.Lock()
	for sub, filter := range b.subs {
		if !filter.Match(event) {
			continue
		}
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.Trace("eventbus dropped", "type", event.Type, "count", dropped)
	}
}
