package carspot

import (
	"pkt.systems/carspot/core"
	"pkt.systems/carspot/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnNavigationEvent(event schema.NavigationEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnNavigationEvent(event)
	}
}

func (f eventFanout) OnCaptureEvent(event schema.CaptureEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnCaptureEvent(event)
	}
}

func (f eventFanout) OnOrientationEvent(event schema.OrientationEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnOrientationEvent(event)
	}
}
