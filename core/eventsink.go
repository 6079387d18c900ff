package core

import "pkt.systems/carspot/schema"

// EventSink receives navigation, capture and orientation events from the core service.
type EventSink interface {
	OnNavigationEvent(event schema.NavigationEvent)
	OnCaptureEvent(event schema.CaptureEvent)
	OnOrientationEvent(event schema.OrientationEvent)
}

type orientationSink struct {
	sink EventSink
}

func (o orientationSink) OnOrientation(event schema.OrientationEvent) {
	o.sink.OnOrientationEvent(event)
}
