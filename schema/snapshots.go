package schema

import "time"

// CaptureState is a state of the capture pipeline.
type CaptureState string

const (
	// CaptureIdle is the initial state before a session begins.
	CaptureIdle CaptureState = "idle"
	// CaptureCapturing waits for a photo.
	CaptureCapturing CaptureState = "capturing"
	// CaptureAwaitingIdentification waits for the identification result.
	CaptureAwaitingIdentification CaptureState = "awaiting_identification"
	// CaptureReviewing shows the result behind the review delay.
	CaptureReviewing CaptureState = "reviewing"
	// CaptureConfirmed is passed through on the way to completed.
	CaptureConfirmed CaptureState = "confirmed"
	// CaptureRetryRequested waits for a retry pass after a wrong subject.
	CaptureRetryRequested CaptureState = "retry_requested"
	// CaptureCompleted is terminal.
	CaptureCompleted CaptureState = "completed"
)

// Terminal reports whether no further transitions are possible.
func (s CaptureState) Terminal() bool {
	return s == CaptureCompleted
}

// CaptureAction names a capture controller operation.
type CaptureAction string

// Capture actions, as reported in TransitionError.
const (
	ActionBegin                  CaptureAction = "begin"
	ActionPhotoAcquired          CaptureAction = "photo_acquired"
	ActionIdentificationResolved CaptureAction = "identification_resolved"
	ActionConfirm                CaptureAction = "confirm"
	ActionRejectSubject          CaptureAction = "reject_subject"
	ActionCancel                 CaptureAction = "cancel"
	ActionFail                   CaptureAction = "fail"
)

// CaptureOutcome describes how a completed session ended.
type CaptureOutcome string

const (
	// OutcomeNone is reported until the session completes.
	OutcomeNone CaptureOutcome = ""
	// OutcomeConfirmed means an artifact was emitted.
	OutcomeConfirmed CaptureOutcome = "confirmed"
	// OutcomeCancelled means the user or the owner abandoned the session.
	OutcomeCancelled CaptureOutcome = "cancelled"
	// OutcomeFailed means capture or identification failed.
	OutcomeFailed CaptureOutcome = "failed"
)

// CaptureSnapshot is a read-only view of a capture session.
type CaptureSnapshot struct {
	SessionID    SessionID      `json:"session_id"`
	State        CaptureState   `json:"state"`
	Outcome      CaptureOutcome `json:"outcome,omitempty"`
	Retry        bool           `json:"retry"`
	Attempts     int            `json:"attempts"`
	Pass         uint64         `json:"pass"`
	HasImage     bool           `json:"has_image"`
	Image        *Image         `json:"image,omitempty"`
	Subject      *Subject       `json:"subject,omitempty"`
	Rejected     []Subject      `json:"rejected,omitempty"`
	Reviewable   bool           `json:"reviewable"`
	LockHeld     bool           `json:"lock_held"`
	FailedReason string         `json:"failed_reason,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TabSnapshot is a read-only view of one tab's navigation state.
type TabSnapshot struct {
	ID        TabID         `json:"id"`
	Path      []Destination `json:"path"`
	Preserved bool          `json:"preserved"`
}

// NavigationSnapshot captures navigator state for persistence and transports.
type NavigationSnapshot struct {
	Tabs    []TabSnapshot `json:"tabs"`
	Trigger uint64        `json:"trigger"`
}
