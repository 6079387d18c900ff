package schema

// Navigation.

// PushRequest describes a request to push a destination onto a tab.
type PushRequest struct {
	Tab         TabID
	Destination Destination
}

// PushResponse reports the resulting path.
type PushResponse struct {
	Tab TabSnapshot
}

// PopRequest describes a request to remove the top destination of a tab.
type PopRequest struct {
	Tab TabID
}

// PopResponse reports the removed destination and the resulting path.
type PopResponse struct {
	Popped *Destination
	Tab    TabSnapshot
}

// PopToRootRequest describes a request to clear a tab's path.
type PopToRootRequest struct {
	Tab TabID
}

// PopToRootResponse reports the resulting tab.
type PopToRootResponse struct {
	Tab TabSnapshot
}

// PreserveRequest describes a request to add or remove a tab from the preserved set.
type PreserveRequest struct {
	Tab      TabID
	Preserve bool
}

// PreserveResponse reports the resulting tab.
type PreserveResponse struct {
	Tab TabSnapshot
}

// TriggerResetRequest describes a global "return to home" request.
type TriggerResetRequest struct{}

// TriggerResetResponse reports the new trigger value and resulting tabs.
type TriggerResetResponse struct {
	Trigger uint64
	Tabs    []TabSnapshot
}

// GetPathRequest describes a request for one tab's path.
type GetPathRequest struct {
	Tab TabID
}

// GetPathResponse reports one tab.
type GetPathResponse struct {
	Tab     TabSnapshot
	Trigger uint64
}

// ListTabsRequest describes a request to list all tabs.
type ListTabsRequest struct{}

// ListTabsResponse reports every tab and the current trigger.
type ListTabsResponse struct {
	Tabs        []TabSnapshot
	Trigger     uint64
	Orientation Orientation
}

// Capture.

// StartCaptureRequest describes a request to begin a capture session.
type StartCaptureRequest struct {
	// SessionID continues a session in retry_requested when set.
	SessionID SessionID
	Retry     bool
}

// StartCaptureResponse reports the session.
type StartCaptureResponse struct {
	Session CaptureSnapshot
}

// SubmitPhotoRequest carries a captured photo.
type SubmitPhotoRequest struct {
	SessionID SessionID
	Image     Image
}

// SubmitPhotoResponse reports the session.
type SubmitPhotoResponse struct {
	Session CaptureSnapshot
}

// ResolveIdentificationRequest carries the identification result.
type ResolveIdentificationRequest struct {
	SessionID SessionID
	Subject   Subject
}

// ResolveIdentificationResponse reports the session.
type ResolveIdentificationResponse struct {
	Session CaptureSnapshot
}

// ConfirmCaptureRequest confirms a reviewed session.
type ConfirmCaptureRequest struct {
	SessionID SessionID
}

// ConfirmCaptureResponse reports the artifact and the saved card when persisted.
type ConfirmCaptureResponse struct {
	Session  CaptureSnapshot
	Artifact Artifact
}

// RejectSubjectRequest rejects a wrong identification.
type RejectSubjectRequest struct {
	SessionID SessionID
}

// RejectSubjectResponse reports the session.
type RejectSubjectResponse struct {
	Session CaptureSnapshot
}

// CancelCaptureRequest abandons a session.
type CancelCaptureRequest struct {
	SessionID SessionID
}

// CancelCaptureResponse reports the session.
type CancelCaptureResponse struct {
	Session CaptureSnapshot
}

// FailCaptureRequest reports a capture or identification failure.
type FailCaptureRequest struct {
	SessionID SessionID
	Reason    string
}

// FailCaptureResponse reports the session.
type FailCaptureResponse struct {
	Session CaptureSnapshot
}

// GetCaptureRequest describes a request for a session snapshot.
type GetCaptureRequest struct {
	SessionID SessionID
}

// GetCaptureResponse reports the session.
type GetCaptureResponse struct {
	Session CaptureSnapshot
}

// Cards.

// ListCardsRequest describes a request to list saved cards.
type ListCardsRequest struct {
	Kind  SubjectKind
	Limit int
}

// ListCardsResponse reports cards, newest first.
type ListCardsResponse struct {
	Cards []Card
}

// GetCardRequest describes a request for one card.
type GetCardRequest struct {
	ID CardID
}

// GetCardResponse reports one card.
type GetCardResponse struct {
	Card Card
}
