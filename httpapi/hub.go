package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/carspot/internal/eventbus"
	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq         uint64                   `json:"seq"`
	Type        string                   `json:"type"`
	Navigation  *schema.NavigationEvent  `json:"navigation,omitempty"`
	Capture     *schema.CaptureEvent     `json:"capture,omitempty"`
	Orientation *schema.OrientationEvent `json:"orientation,omitempty"`
	Snapshot    *SnapshotPayload         `json:"snapshot,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	Tabs        []schema.TabSnapshot `json:"tabs"`
	Trigger     uint64               `json:"trigger"`
	Orientation schema.Orientation   `json:"orientation"`
}

func (e StreamEvent) busEvent() eventbus.Event {
	switch {
	case e.Navigation != nil:
		return eventbus.Event{Type: eventbus.EventNavigation, Navigation: *e.Navigation}
	case e.Capture != nil:
		return eventbus.Event{Type: eventbus.EventCapture, Capture: *e.Capture}
	case e.Orientation != nil:
		return eventbus.Event{Type: eventbus.EventOrientation, Orientation: *e.Orientation}
	}
	return eventbus.Event{Type: eventbus.EventType(e.Type)}
}

// Hub sequences events for SSE clients and keeps a bounded history for replay.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	history     []StreamEvent
	subs        map[chan StreamEvent]eventbus.Filter
	historySize int
	log         pslog.Logger
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Hub{
		subs:        make(map[chan StreamEvent]eventbus.Filter),
		historySize: historySize,
		log:         logger,
	}
}

// OnNavigationEvent implements core.EventSink.
func (h *Hub) OnNavigationEvent(event schema.NavigationEvent) {
	h.log.Trace("hub navigation event", "type", event.Type, "tab", event.Tab)
	h.publish(StreamEvent{Type: string(eventbus.EventNavigation), Navigation: &event, Timestamp: time.Now()})
}

// OnCaptureEvent implements core.EventSink.
func (h *Hub) OnCaptureEvent(event schema.CaptureEvent) {
	h.log.Trace("hub capture event", "type", event.Type, "session", event.Session.SessionID)
	h.publish(StreamEvent{Type: string(eventbus.EventCapture), Capture: &event, Timestamp: time.Now()})
}

// OnOrientationEvent implements core.EventSink.
func (h *Hub) OnOrientationEvent(event schema.OrientationEvent) {
	h.log.Trace("hub orientation event", "orientation", event.Orientation, "depth", event.Depth)
	h.publish(StreamEvent{Type: string(eventbus.EventOrientation), Orientation: &event, Timestamp: time.Now()})
}

// Subscribe registers a filtered subscriber and returns its channel, an
// unsubscribe func and the sequence number it starts after.
func (h *Hub) Subscribe(filter eventbus.Filter) (<-chan StreamEvent, func(), uint64) {
	h.mu.Lock()
	ch := make(chan StreamEvent, 256)
	h.subs[ch] = filter
	seq := h.seq
	count := len(h.subs)
	h.mu.Unlock()
	h.log.Info("hub subscribe", "subs", count, "tab", filter.Tab, "session", filter.Session)
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			h.log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq
}

// Replay returns events with after < seq <= upTo that match filter.
func (h *Hub) Replay(filter eventbus.Filter, after, upTo uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]StreamEvent, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq > after && event.Seq <= upTo && filter.Match(event.busEvent()) {
			events = append(events, event)
		}
	}
	h.log.Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(event StreamEvent) {
	h.mu.Lock()
	h.seq++
	event.Seq = h.seq
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	dropped := 0
	bus := event.busEvent()
	for sub, filter := range h.subs {
		if !filter.Match(bus) {
			continue
		}
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		h.log.Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}
