package core

import (
	"pkt.systems/carspot/internal/clock"
	"pkt.systems/carspot/internal/orientation"
	"pkt.systems/pslog"
)

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	// Identifier runs identification for submitted photos. Without one,
	// results must be supplied through ResolveIdentification.
	Identifier Identifier
	// Cards stores confirmed artifacts. Without one, confirmed sessions are not saved.
	Cards     CardStore
	EventSink EventSink
	Logger    pslog.Logger
	Clock     clock.Clock
	// Locks is shared with other orientation owners in the process.
	Locks *orientation.Manager
}
