package schema

// NavigationEventType describes a navigator change.
type NavigationEventType string

const (
	// NavigationPushed indicates a destination was pushed.
	NavigationPushed NavigationEventType = "pushed"
	// NavigationPopped indicates the top destination was removed.
	NavigationPopped NavigationEventType = "popped"
	// NavigationRoot indicates a tab returned to its root.
	NavigationRoot NavigationEventType = "root"
	// NavigationPreserved indicates a tab was added to the preserved set.
	NavigationPreserved NavigationEventType = "preserved"
	// NavigationUnpreserved indicates a tab was removed from the preserved set.
	NavigationUnpreserved NavigationEventType = "unpreserved"
	// NavigationReset indicates a global reset was triggered.
	NavigationReset NavigationEventType = "reset"
)

// NavigationEvent represents a change to the navigator.
type NavigationEvent struct {
	Type    NavigationEventType `json:"type"`
	Tab     TabID               `json:"tab,omitempty"`
	Path    []Destination       `json:"path,omitempty"`
	Trigger uint64              `json:"trigger"`
}

// CaptureEventType describes a capture session change.
type CaptureEventType string

const (
	// CaptureEventState indicates a state transition.
	CaptureEventState CaptureEventType = "state"
	// CaptureEventIdentify asks the identification collaborator to run.
	CaptureEventIdentify CaptureEventType = "identify"
	// CaptureEventRetry signals the owner to re-identify with alternates.
	CaptureEventRetry CaptureEventType = "retry"
	// CaptureEventCompleted indicates the session reached a terminal state.
	CaptureEventCompleted CaptureEventType = "completed"
	// CaptureEventSaved indicates a confirmed artifact was persisted as a card.
	CaptureEventSaved CaptureEventType = "saved"
)

// CaptureEvent represents a capture session change.
type CaptureEvent struct {
	Type     CaptureEventType `json:"type"`
	Session  CaptureSnapshot  `json:"session"`
	Previous CaptureState     `json:"previous,omitempty"`
	Card     *Card            `json:"card,omitempty"`
}

// OrientationEvent reports a change of the effective orientation.
type OrientationEvent struct {
	Orientation Orientation `json:"orientation"`
	Depth       int         `json:"depth"`
}
