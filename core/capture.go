package core

import (
	"context"
	"sync"
	"time"

	"pkt.systems/carspot/internal/clock"
	"pkt.systems/carspot/internal/delaygate"
	"pkt.systems/carspot/internal/orientation"
	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

// CaptureOptions configures a Capture controller.
type CaptureOptions struct {
	SessionID   schema.SessionID
	Locks       *orientation.Manager
	Orientation schema.Orientation
	ReviewDelay time.Duration
	Clock       clock.Clock
	// Observer receives every session event after the controller lock is released.
	Observer func(schema.CaptureEvent)
	// OnComplete receives the artifact of a confirmed session, exactly once.
	OnComplete func(schema.Artifact)
	Logger     pslog.Logger
}

// Capture drives a single capture session from photo to confirmed artifact.
//
// While a session is between Begin and its exit (confirm, reject, cancel, fail
// or the Begin context ending) it holds one orientation guard. Every exit goes
// through releaseLocked, so the guard is returned exactly once per pass.
type Capture struct {
	mu   sync.Mutex
	opts CaptureOptions
	log  pslog.Logger

	id       schema.SessionID
	state    schema.CaptureState
	outcome  schema.CaptureOutcome
	reason   string
	retry    bool
	attempts int
	pass     uint64
	image    *schema.Image
	subject  *schema.Subject
	rejected []schema.Subject
	gate     *delaygate.Gate
	guard    *orientation.Guard
	unbind   func() bool
	emitted  bool
	created  time.Time
	updated  time.Time
	done     chan struct{}
}

// NewCapture returns an idle controller.
func NewCapture(opts CaptureOptions) *Capture {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Locks == nil {
		opts.Locks = orientation.New(orientation.Options{Logger: opts.Logger})
	}
	if opts.Orientation == "" {
		opts.Orientation = schema.OrientationPortrait
	}
	if opts.ReviewDelay <= 0 {
		opts.ReviewDelay = schema.DefaultReviewDelay
	}
	if opts.SessionID == "" {
		opts.SessionID = newSessionID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	now := opts.Clock.Now()
	return &Capture{
		opts:    opts,
		log:     logger.With("session", opts.SessionID),
		id:      opts.SessionID,
		state:   schema.CaptureIdle,
		created: now,
		updated: now,
		done:    make(chan struct{}),
	}
}

// ID returns the session id.
func (c *Capture) ID() schema.SessionID {
	return c.id
}

// Begin starts a capture pass. It is valid from idle, and from retry_requested
// where retry keeps the session and its image and a false retry starts over.
// The session cancels itself when ctx ends before the pass exits.
func (c *Capture) Begin(ctx context.Context, retry bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	prev := c.state
	switch prev {
	case schema.CaptureIdle:
		c.retry = retry
		c.attempts = 1
	case schema.CaptureRetryRequested:
		if retry {
			c.retry = true
			c.attempts++
		} else {
			c.retry = false
			c.attempts = 1
			c.image = nil
			c.rejected = nil
		}
	default:
		c.mu.Unlock()
		return c.invalid(prev, schema.ActionBegin, "")
	}
	c.pass++
	c.subject = nil
	c.gate = nil
	c.guard = c.opts.Locks.Lock(c.opts.Orientation, "capture:"+string(c.id))
	c.unbind = context.AfterFunc(ctx, func() {
		if err := c.Cancel(); err == nil {
			c.log.Info("capture cancelled by context", "err", ctx.Err())
		}
	})
	c.setStateLocked(schema.CaptureCapturing)
	events := []schema.CaptureEvent{c.eventLocked(schema.CaptureEventState, prev)}
	if c.retry && c.image != nil {
		events = append(events, c.eventLocked(schema.CaptureEventIdentify, prev))
	}
	attempts := c.attempts
	c.mu.Unlock()
	c.log.Info("capture begin ok", "retry", retry, "attempt", attempts)
	c.emit(events)
	return nil
}

// PhotoAcquired stores the captured photo and asks for identification.
func (c *Capture) PhotoAcquired(img schema.Image) error {
	if err := schema.ValidateImage(img); err != nil {
		return err
	}
	c.mu.Lock()
	prev := c.state
	if prev != schema.CaptureCapturing {
		c.mu.Unlock()
		return c.invalid(prev, schema.ActionPhotoAcquired, "")
	}
	c.image = &img
	c.setStateLocked(schema.CaptureAwaitingIdentification)
	events := []schema.CaptureEvent{
		c.eventLocked(schema.CaptureEventState, prev),
		c.eventLocked(schema.CaptureEventIdentify, prev),
	}
	c.mu.Unlock()
	c.log.Debug("capture photo acquired", "bytes", len(img.Data), "width", img.Width, "height", img.Height)
	c.emit(events)
	return nil
}

// IdentificationResolved stores the subject and opens the review, whose
// dismissal is held back by the review delay. A retry pass that still holds
// its photo may resolve straight from capturing.
func (c *Capture) IdentificationResolved(subject schema.Subject) error {
	return c.resolve(0, subject)
}

// ResolvePass is IdentificationResolved for an identification requested
// during pass (see CaptureSnapshot.Pass). It fails once a later Begin has
// started another pass.
func (c *Capture) ResolvePass(pass uint64, subject schema.Subject) error {
	return c.resolve(pass, subject)
}

func (c *Capture) resolve(pass uint64, subject schema.Subject) error {
	subject, err := schema.NormalizeSubject(subject)
	if err != nil {
		return err
	}
	c.mu.Lock()
	prev := c.state
	if pass != 0 && pass != c.pass {
		c.mu.Unlock()
		return c.invalid(prev, schema.ActionIdentificationResolved, "stale identification")
	}
	reuse := prev == schema.CaptureCapturing && c.retry && c.image != nil
	if prev != schema.CaptureAwaitingIdentification && !reuse {
		c.mu.Unlock()
		return c.invalid(prev, schema.ActionIdentificationResolved, "")
	}
	gate := delaygate.New(c.opts.Clock)
	if err := gate.Start(c.opts.ReviewDelay); err != nil {
		c.mu.Unlock()
		c.log.Error("capture review gate start failed", "err", err)
		return err
	}
	c.subject = &subject
	c.gate = gate
	c.setStateLocked(schema.CaptureReviewing)
	events := []schema.CaptureEvent{c.eventLocked(schema.CaptureEventState, prev)}
	c.mu.Unlock()
	c.log.Info("capture identified", "subject", subject.Title(), "reused_photo", reuse)
	c.emit(events)
	return nil
}

// Confirm accepts the reviewed subject once the review delay has elapsed and
// returns the artifact.
func (c *Capture) Confirm() (schema.Artifact, error) {
	c.mu.Lock()
	prev := c.state
	if prev != schema.CaptureReviewing {
		c.mu.Unlock()
		return schema.Artifact{}, c.invalid(prev, schema.ActionConfirm, "")
	}
	if c.gate == nil || !c.gate.IsOpen() {
		c.mu.Unlock()
		return schema.Artifact{}, c.invalid(prev, schema.ActionConfirm, "review delay not elapsed")
	}
	artifact := schema.Artifact{
		SessionID:  c.id,
		Image:      *c.image,
		Subject:    *c.subject,
		CapturedAt: c.opts.Clock.Now(),
	}
	c.releaseLocked()
	c.setStateLocked(schema.CaptureConfirmed)
	events := []schema.CaptureEvent{c.eventLocked(schema.CaptureEventState, prev)}
	c.outcome = schema.OutcomeConfirmed
	events = append(events, c.completeLocked(schema.CaptureConfirmed)...)
	deliver := !c.emitted
	c.emitted = true
	c.mu.Unlock()
	c.log.Info("capture confirm ok", "subject", artifact.Subject.Title())
	c.emit(events)
	if deliver && c.opts.OnComplete != nil {
		c.opts.OnComplete(artifact)
	}
	return artifact, nil
}

// RejectSubject discards a wrong identification. It is always allowed during
// review. The photo is kept for the retry pass.
func (c *Capture) RejectSubject() error {
	c.mu.Lock()
	prev := c.state
	if prev != schema.CaptureReviewing {
		c.mu.Unlock()
		return c.invalid(prev, schema.ActionRejectSubject, "")
	}
	var title string
	if c.subject != nil {
		c.rejected = append(c.rejected, *c.subject)
		title = c.subject.Title()
	}
	c.subject = nil
	c.gate = nil
	c.releaseLocked()
	c.setStateLocked(schema.CaptureRetryRequested)
	events := []schema.CaptureEvent{
		c.eventLocked(schema.CaptureEventState, prev),
		c.eventLocked(schema.CaptureEventRetry, prev),
	}
	c.mu.Unlock()
	c.log.Info("capture subject rejected", "subject", title)
	c.emit(events)
	return nil
}

// Cancel abandons the session from any non-terminal state.
func (c *Capture) Cancel() error {
	return c.finish(0, schema.ActionCancel, schema.OutcomeCancelled, "")
}

// Fail ends the session with a failed outcome, for capture hardware or
// identification failures.
func (c *Capture) Fail(reason error) error {
	return c.finish(0, schema.ActionFail, schema.OutcomeFailed, failureText(reason))
}

// FailPass is Fail for an identification failure reported for pass. It fails
// once a later Begin has started another pass.
func (c *Capture) FailPass(pass uint64, reason error) error {
	return c.finish(pass, schema.ActionFail, schema.OutcomeFailed, failureText(reason))
}

func failureText(reason error) string {
	if reason == nil {
		return "unknown failure"
	}
	return reason.Error()
}

func (c *Capture) finish(pass uint64, action schema.CaptureAction, outcome schema.CaptureOutcome, reason string) error {
	c.mu.Lock()
	prev := c.state
	if prev.Terminal() {
		c.mu.Unlock()
		return c.invalid(prev, action, "")
	}
	if pass != 0 && pass != c.pass {
		c.mu.Unlock()
		return c.invalid(prev, action, "stale identification")
	}
	c.releaseLocked()
	c.outcome = outcome
	c.reason = reason
	c.image = nil
	c.subject = nil
	c.gate = nil
	events := c.completeLocked(prev)
	c.mu.Unlock()
	if outcome == schema.OutcomeFailed {
		c.log.Warn("capture failed", "from", prev, "reason", reason)
	} else {
		c.log.Info("capture cancelled", "from", prev)
	}
	c.emit(events)
	return nil
}

// WaitReviewable blocks until the review delay has elapsed, ctx is done, or
// the session ends.
func (c *Capture) WaitReviewable(ctx context.Context) error {
	c.mu.Lock()
	state, gate := c.state, c.gate
	c.mu.Unlock()
	if state != schema.CaptureReviewing || gate == nil {
		return c.invalid(state, schema.ActionConfirm, "not reviewing")
	}
	select {
	case <-gate.Done():
		return nil
	case <-c.done:
		return c.invalid(schema.CaptureCompleted, schema.ActionConfirm, "session ended")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the session reaches completed.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// State returns the current state.
func (c *Capture) State() schema.CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Outcome returns how the session ended, or OutcomeNone while it is live.
func (c *Capture) Outcome() schema.CaptureOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Snapshot returns a read-only view of the session.
func (c *Capture) Snapshot() schema.CaptureSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Capture) snapshotLocked() schema.CaptureSnapshot {
	snap := schema.CaptureSnapshot{
		SessionID:    c.id,
		State:        c.state,
		Outcome:      c.outcome,
		Retry:        c.retry,
		Attempts:     c.attempts,
		Pass:         c.pass,
		HasImage:     c.image != nil,
		Reviewable:   c.state == schema.CaptureReviewing && c.gate != nil && c.gate.IsOpen(),
		LockHeld:     c.guard != nil,
		FailedReason: c.reason,
		CreatedAt:    c.created,
		UpdatedAt:    c.updated,
	}
	if c.image != nil {
		img := *c.image
		snap.Image = &img
	}
	if c.subject != nil {
		subject := *c.subject
		snap.Subject = &subject
	}
	if len(c.rejected) > 0 {
		snap.Rejected = append([]schema.Subject(nil), c.rejected...)
	}
	return snap
}

// releaseLocked returns the orientation guard and detaches the Begin context.
func (c *Capture) releaseLocked() {
	if c.unbind != nil {
		c.unbind()
		c.unbind = nil
	}
	if c.guard == nil {
		return
	}
	if err := c.guard.Release(); err != nil {
		c.log.Error("capture orientation release unbalanced", "err", err, "depth", c.opts.Locks.Depth())
		if c.guard.Evict() {
			c.log.Warn("capture orientation lock evicted", "depth", c.opts.Locks.Depth())
		}
	}
	c.guard = nil
}

// completeLocked moves to completed and closes Done.
func (c *Capture) completeLocked(prev schema.CaptureState) []schema.CaptureEvent {
	c.setStateLocked(schema.CaptureCompleted)
	close(c.done)
	return []schema.CaptureEvent{
		c.eventLocked(schema.CaptureEventState, prev),
		c.eventLocked(schema.CaptureEventCompleted, prev),
	}
}

func (c *Capture) setStateLocked(state schema.CaptureState) {
	c.state = state
	c.updated = c.opts.Clock.Now()
}

func (c *Capture) eventLocked(kind schema.CaptureEventType, prev schema.CaptureState) schema.CaptureEvent {
	return schema.CaptureEvent{Type: kind, Session: c.snapshotLocked(), Previous: prev}
}

func (c *Capture) emit(events []schema.CaptureEvent) {
	if c.opts.Observer == nil {
		return
	}
	for _, event := range events {
		c.opts.Observer(event)
	}
}

func (c *Capture) invalid(state schema.CaptureState, action schema.CaptureAction, reason string) error {
	err := &schema.TransitionError{State: state, Action: action, Reason: reason}
	c.log.Warn("capture transition rejected", "state", state, "action", action, "reason", reason)
	return err
}
