package core

import (
	"context"

	"pkt.systems/carspot/schema"
)

// Service is the transport-agnostic API for tab navigation, capture sessions and saved cards.
type Service interface {
	Push(ctx context.Context, req schema.PushRequest) (schema.PushResponse, error)
	Pop(ctx context.Context, req schema.PopRequest) (schema.PopResponse, error)
	PopToRoot(ctx context.Context, req schema.PopToRootRequest) (schema.PopToRootResponse, error)
	SetPreserved(ctx context.Context, req schema.PreserveRequest) (schema.PreserveResponse, error)
	TriggerReset(ctx context.Context, req schema.TriggerResetRequest) (schema.TriggerResetResponse, error)
	GetPath(ctx context.Context, req schema.GetPathRequest) (schema.GetPathResponse, error)
	ListTabs(ctx context.Context, req schema.ListTabsRequest) (schema.ListTabsResponse, error)

	StartCapture(ctx context.Context, req schema.StartCaptureRequest) (schema.StartCaptureResponse, error)
	SubmitPhoto(ctx context.Context, req schema.SubmitPhotoRequest) (schema.SubmitPhotoResponse, error)
	ResolveIdentification(ctx context.Context, req schema.ResolveIdentificationRequest) (schema.ResolveIdentificationResponse, error)
	ConfirmCapture(ctx context.Context, req schema.ConfirmCaptureRequest) (schema.ConfirmCaptureResponse, error)
	RejectSubject(ctx context.Context, req schema.RejectSubjectRequest) (schema.RejectSubjectResponse, error)
	CancelCapture(ctx context.Context, req schema.CancelCaptureRequest) (schema.CancelCaptureResponse, error)
	FailCapture(ctx context.Context, req schema.FailCaptureRequest) (schema.FailCaptureResponse, error)
	GetCapture(ctx context.Context, req schema.GetCaptureRequest) (schema.GetCaptureResponse, error)

	ListCards(ctx context.Context, req schema.ListCardsRequest) (schema.ListCardsResponse, error)
	GetCard(ctx context.Context, req schema.GetCardRequest) (schema.GetCardResponse, error)

	// Navigator exposes the shared navigator to in-process views.
	Navigator() *Navigator
	Close(ctx context.Context) error
}

// IdentifyRequest asks the identification collaborator about a photo.
type IdentifyRequest struct {
	SessionID schema.SessionID
	Image     schema.Image
	Retry     bool
	// Pass identifies the capture pass the result is for.
	Pass uint64
	// Exclude lists subjects the user already rejected in this session.
	Exclude []schema.Subject
}

// IdentifyResult is either a subject or, on retry, a list of alternates.
type IdentifyResult struct {
	Subject    *schema.Subject
	Candidates []schema.Subject
}

// Identifier identifies the subject of a photo.
type Identifier interface {
	Identify(ctx context.Context, req IdentifyRequest) (IdentifyResult, error)
}

// CardStore persists confirmed artifacts as cards.
type CardStore interface {
	Save(ctx context.Context, artifact schema.Artifact) (schema.Card, error)
	List(ctx context.Context, kind schema.SubjectKind, limit int) ([]schema.Card, error)
	Get(ctx context.Context, id schema.CardID) (schema.Card, error)
}
