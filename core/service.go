package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"pkt.systems/carspot/internal/clock"
	"pkt.systems/carspot/internal/logx"
	"pkt.systems/carspot/internal/orientation"
	"pkt.systems/carspot/internal/persist"
	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

const saveTimeout = 30 * time.Second

// service implements the core service behavior.
type service struct {
	cfg    schema.ServiceConfig
	nav    *Navigator
	locks  *orientation.Manager
	clock  clock.Clock
	ident  Identifier
	cards  CardStore
	sink   EventSink
	store  *persist.Store
	logger pslog.Logger

	// ctx bounds every session and background call; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	captures map[schema.SessionID]*captureEntry
	order    []schema.SessionID
	closed   bool
}

type captureEntry struct {
	capture *Capture
	dest    schema.Destination
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Locks == nil {
		opts := orientation.Options{Strict: cfg.StrictLocks, Logger: logger}
		if deps.EventSink != nil {
			opts.Sink = orientationSink{sink: deps.EventSink}
		}
		deps.Locks = orientation.New(opts)
	}
	navOpts := NavigatorOptions{Tabs: cfg.Tabs, Logger: logger}
	if deps.EventSink != nil {
		navOpts.Sink = deps.EventSink
	}
	nav, err := NewNavigator(navOpts)
	if err != nil {
		return nil, err
	}
	store, err := persist.NewStoreWithLogger(cfg.StateDir, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &service{
		cfg:      cfg,
		nav:      nav,
		locks:    deps.Locks,
		clock:    deps.Clock,
		ident:    deps.Identifier,
		cards:    deps.Cards,
		sink:     deps.EventSink,
		store:    store,
		logger:   logger,
		ctx:      pslog.ContextWithLogger(ctx, logger),
		cancel:   cancel,
		captures: make(map[schema.SessionID]*captureEntry),
	}
	s.restore()
	return s, nil
}

// restore loads the last navigator state. Capture destinations are dropped
// because their sessions did not survive the restart.
func (s *service) restore() {
	state, ok, err := s.store.Load()
	if err != nil {
		s.logger.Warn("service state restore failed", "err", err)
		return
	}
	if !ok {
		return
	}
	snapshot := state.Navigation
	for i, tab := range snapshot.Tabs {
		path := make([]schema.Destination, 0, len(tab.Path))
		for _, dest := range tab.Path {
			if dest.Kind == schema.DestinationCapture {
				continue
			}
			path = append(path, dest)
		}
		snapshot.Tabs[i].Path = path
		if tab.ID == s.cfg.CaptureTab {
			snapshot.Tabs[i].Preserved = false
		}
	}
	s.nav.Restore(snapshot)
	s.logger.Info("service state restored", "tabs", len(snapshot.Tabs), "trigger", snapshot.Trigger)
}

func (s *service) Navigator() *Navigator {
	return s.nav
}

func (s *service) Push(ctx context.Context, req schema.PushRequest) (schema.PushResponse, error) {
	log := logx.WithTab(ctx, req.Tab)
	if err := s.nav.Push(req.Tab, req.Destination); err != nil {
		log.Warn("service push failed", "kind", req.Destination.Kind, "err", err)
		return schema.PushResponse{}, err
	}
	tab, err := s.nav.Tab(req.Tab)
	if err != nil {
		return schema.PushResponse{}, err
	}
	log.Debug("service push ok", "kind", req.Destination.Kind, "depth", len(tab.Path))
	return schema.PushResponse{Tab: tab}, nil
}

func (s *service) Pop(ctx context.Context, req schema.PopRequest) (schema.PopResponse, error) {
	dest, ok, err := s.nav.Pop(req.Tab)
	if err != nil {
		logx.WithTab(ctx, req.Tab).Warn("service pop failed", "err", err)
		return schema.PopResponse{}, err
	}
	tab, err := s.nav.Tab(req.Tab)
	if err != nil {
		return schema.PopResponse{}, err
	}
	resp := schema.PopResponse{Tab: tab}
	if ok {
		resp.Popped = &dest
	}
	return resp, nil
}

func (s *service) PopToRoot(ctx context.Context, req schema.PopToRootRequest) (schema.PopToRootResponse, error) {
	if err := s.nav.PopToRoot(req.Tab); err != nil {
		logx.WithTab(ctx, req.Tab).Warn("service pop to root failed", "err", err)
		return schema.PopToRootResponse{}, err
	}
	tab, err := s.nav.Tab(req.Tab)
	if err != nil {
		return schema.PopToRootResponse{}, err
	}
	return schema.PopToRootResponse{Tab: tab}, nil
}

func (s *service) SetPreserved(ctx context.Context, req schema.PreserveRequest) (schema.PreserveResponse, error) {
	var err error
	if req.Preserve {
		err = s.nav.Preserve(req.Tab)
	} else {
		err = s.nav.Unpreserve(req.Tab)
	}
	if err != nil {
		logx.WithTab(ctx, req.Tab).Warn("service preserve failed", "preserve", req.Preserve, "err", err)
		return schema.PreserveResponse{}, err
	}
	tab, err := s.nav.Tab(req.Tab)
	if err != nil {
		return schema.PreserveResponse{}, err
	}
	return schema.PreserveResponse{Tab: tab}, nil
}

// TriggerReset returns every tab home. While a capture session is live the
// capture tab is preserved again right after the reset.
func (s *service) TriggerReset(ctx context.Context, _ schema.TriggerResetRequest) (schema.TriggerResetResponse, error) {
	trigger := s.nav.TriggerGlobalReset()
	if live := s.liveSessions(); live > 0 {
		if err := s.nav.Preserve(s.cfg.CaptureTab); err != nil {
			return schema.TriggerResetResponse{}, err
		}
		logx.Ctx(ctx).Debug("service reset kept capture tab", "tab", s.cfg.CaptureTab, "live", live)
	}
	snapshot := s.nav.Snapshot()
	logx.Ctx(ctx).Info("service reset ok", "trigger", trigger)
	return schema.TriggerResetResponse{Trigger: trigger, Tabs: snapshot.Tabs}, nil
}

func (s *service) GetPath(ctx context.Context, req schema.GetPathRequest) (schema.GetPathResponse, error) {
	tab, err := s.nav.Tab(req.Tab)
	if err != nil {
		return schema.GetPathResponse{}, err
	}
	return schema.GetPathResponse{Tab: tab, Trigger: s.nav.ResetTrigger()}, nil
}

func (s *service) ListTabs(ctx context.Context, _ schema.ListTabsRequest) (schema.ListTabsResponse, error) {
	snapshot := s.nav.Snapshot()
	return schema.ListTabsResponse{
		Tabs:        snapshot.Tabs,
		Trigger:     snapshot.Trigger,
		Orientation: s.locks.Current(),
	}, nil
}

func (s *service) StartCapture(ctx context.Context, req schema.StartCaptureRequest) (schema.StartCaptureResponse, error) {
	if req.SessionID != "" {
		entry, err := s.entry(req.SessionID)
		if err != nil {
			return schema.StartCaptureResponse{}, err
		}
		log := logx.WithSession(ctx, req.SessionID)
		if err := entry.capture.Begin(s.ctx, req.Retry); err != nil {
			log.Warn("service capture restart failed", "retry", req.Retry, "err", err)
			return schema.StartCaptureResponse{}, err
		}
		if err := s.nav.Preserve(s.cfg.CaptureTab); err != nil {
			return schema.StartCaptureResponse{}, err
		}
		log.Info("service capture restart ok", "retry", req.Retry)
		return schema.StartCaptureResponse{Session: entry.capture.Snapshot()}, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return schema.StartCaptureResponse{}, schema.ErrServiceClosed
	}
	if s.liveSessionsLocked() >= s.cfg.MaxSessions {
		s.mu.Unlock()
		logx.Ctx(ctx).Warn("service capture start rejected", "max_sessions", s.cfg.MaxSessions)
		return schema.StartCaptureResponse{}, schema.ErrTooManySessions
	}
	s.pruneLocked()
	capture := NewCapture(CaptureOptions{
		Locks:       s.locks,
		Orientation: s.cfg.CaptureOrientation,
		ReviewDelay: s.cfg.ReviewDelay,
		Clock:       s.clock,
		Observer:    s.onCaptureEvent,
		OnComplete:  s.onArtifact,
		Logger:      s.logger,
	})
	id := capture.ID()
	entry := &captureEntry{
		capture: capture,
		dest:    schema.Destination{Kind: schema.DestinationCapture, Ref: string(id)},
	}
	s.captures[id] = entry
	s.order = append(s.order, id)
	s.mu.Unlock()

	log := logx.WithSession(ctx, id)
	if err := s.nav.Preserve(s.cfg.CaptureTab); err != nil {
		s.drop(id)
		return schema.StartCaptureResponse{}, err
	}
	if err := s.nav.Push(s.cfg.CaptureTab, entry.dest); err != nil {
		s.drop(id)
		return schema.StartCaptureResponse{}, err
	}
	if err := capture.Begin(s.ctx, req.Retry); err != nil {
		s.drop(id)
		return schema.StartCaptureResponse{}, err
	}
	log.Info("service capture start ok", "tab", s.cfg.CaptureTab, "retry", req.Retry)
	return schema.StartCaptureResponse{Session: capture.Snapshot()}, nil
}

func (s *service) SubmitPhoto(ctx context.Context, req schema.SubmitPhotoRequest) (schema.SubmitPhotoResponse, error) {
	entry, err := s.entry(req.SessionID)
	if err != nil {
		return schema.SubmitPhotoResponse{}, err
	}
	if err := entry.capture.PhotoAcquired(req.Image); err != nil {
		logx.WithSession(ctx, req.SessionID).Warn("service photo rejected", "err", err)
		return schema.SubmitPhotoResponse{}, err
	}
	return schema.SubmitPhotoResponse{Session: entry.capture.Snapshot()}, nil
}

func (s *service) ResolveIdentification(ctx context.Context, req schema.ResolveIdentificationRequest) (schema.ResolveIdentificationResponse, error) {
	entry, err := s.entry(req.SessionID)
	if err != nil {
		return schema.ResolveIdentificationResponse{}, err
	}
	if err := entry.capture.IdentificationResolved(req.Subject); err != nil {
		logx.WithSession(ctx, req.SessionID).Warn("service identification rejected", "err", err)
		return schema.ResolveIdentificationResponse{}, err
	}
	return schema.ResolveIdentificationResponse{Session: entry.capture.Snapshot()}, nil
}

func (s *service) ConfirmCapture(ctx context.Context, req schema.ConfirmCaptureRequest) (schema.ConfirmCaptureResponse, error) {
	entry, err := s.entry(req.SessionID)
	if err != nil {
		return schema.ConfirmCaptureResponse{}, err
	}
	artifact, err := entry.capture.Confirm()
	if err != nil {
		return schema.ConfirmCaptureResponse{}, err
	}
	logx.WithSession(ctx, req.SessionID).Info("service capture confirm ok", "subject", artifact.Subject.Title())
	return schema.ConfirmCaptureResponse{Session: entry.capture.Snapshot(), Artifact: artifact}, nil
}

func (s *service) RejectSubject(ctx context.Context, req schema.RejectSubjectRequest) (schema.RejectSubjectResponse, error) {
	entry, err := s.entry(req.SessionID)
	if err != nil {
		return schema.RejectSubjectResponse{}, err
	}
	if err := entry.capture.RejectSubject(); err != nil {
		return schema.RejectSubjectResponse{}, err
	}
	return schema.RejectSubjectResponse{Session: entry.capture.Snapshot()}, nil
}

func (s *service) CancelCapture(ctx context.Context, req schema.CancelCaptureRequest) (schema.CancelCaptureResponse, error) {
	entry, err := s.entry(req.SessionID)
	if err != nil {
		return schema.CancelCaptureResponse{}, err
	}
	if err := entry.capture.Cancel(); err != nil {
		return schema.CancelCaptureResponse{}, err
	}
	return schema.CancelCaptureResponse{Session: entry.capture.Snapshot()}, nil
}

func (s *service) FailCapture(ctx context.Context, req schema.FailCaptureRequest) (schema.FailCaptureResponse, error) {
	entry, err := s.entry(req.SessionID)
	if err != nil {
		return schema.FailCaptureResponse{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "capture failed"
	}
	if err := entry.capture.Fail(errors.New(reason)); err != nil {
		return schema.FailCaptureResponse{}, err
	}
	return schema.FailCaptureResponse{Session: entry.capture.Snapshot()}, nil
}

func (s *service) GetCapture(ctx context.Context, req schema.GetCaptureRequest) (schema.GetCaptureResponse, error) {
	entry, err := s.entry(req.SessionID)
	if err != nil {
		return schema.GetCaptureResponse{}, err
	}
	return schema.GetCaptureResponse{Session: entry.capture.Snapshot()}, nil
}

func (s *service) ListCards(ctx context.Context, req schema.ListCardsRequest) (schema.ListCardsResponse, error) {
	if s.cards == nil {
		return schema.ListCardsResponse{Cards: []schema.Card{}}, nil
	}
	cards, err := s.cards.List(ctx, req.Kind, req.Limit)
	if err != nil {
		return schema.ListCardsResponse{}, err
	}
	return schema.ListCardsResponse{Cards: cards}, nil
}

func (s *service) GetCard(ctx context.Context, req schema.GetCardRequest) (schema.GetCardResponse, error) {
	if s.cards == nil {
		return schema.GetCardResponse{}, schema.ErrCardNotFound
	}
	card, err := s.cards.Get(ctx, req.ID)
	if err != nil {
		return schema.GetCardResponse{}, err
	}
	return schema.GetCardResponse{Card: card}, nil
}

// Close cancels live sessions, waits for background identification and saves,
// then persists the navigator state.
func (s *service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	live := make([]*Capture, 0, len(s.captures))
	for _, entry := range s.captures {
		if !entry.capture.State().Terminal() {
			live = append(live, entry.capture)
		}
	}
	s.mu.Unlock()

	for _, capture := range live {
		_ = capture.Cancel()
	}
	s.cancel()
	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	var errs []error
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	state := persist.State{Navigation: s.nav.Snapshot(), SavedAt: s.clock.Now()}
	if err := s.store.Save(state); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("service closed", "cancelled_sessions", len(live))
	return errors.Join(errs...)
}

func (s *service) entry(id schema.SessionID) (*captureEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.captures[id]
	if entry == nil {
		return nil, schema.ErrSessionNotFound
	}
	return entry, nil
}

func (s *service) drop(id schema.SessionID) {
	s.mu.Lock()
	entry := s.captures[id]
	delete(s.captures, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if entry != nil {
		_ = entry.capture.Cancel()
	}
}

func (s *service) liveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveSessionsLocked()
}

func (s *service) liveSessionsLocked() int {
	live := 0
	for _, entry := range s.captures {
		if !entry.capture.State().Terminal() {
			live++
		}
	}
	return live
}

// pruneLocked forgets the oldest completed sessions once more than
// MaxSessions of them are retained.
func (s *service) pruneLocked() {
	completed := len(s.captures) - s.liveSessionsLocked()
	if completed <= s.cfg.MaxSessions {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		entry := s.captures[id]
		if completed > s.cfg.MaxSessions && entry.capture.State().Terminal() {
			delete(s.captures, id)
			completed--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *service) onCaptureEvent(event schema.CaptureEvent) {
	if s.sink != nil {
		s.sink.OnCaptureEvent(event)
	}
	switch event.Type {
	case schema.CaptureEventIdentify:
		s.identify(event.Session)
	case schema.CaptureEventCompleted:
		s.sessionEnded(event.Session)
	}
}

// identify runs the identifier in the background and feeds its result back
// into the pass that asked for it. Results for sessions or passes that moved on
// are discarded.
func (s *service) identify(session schema.CaptureSnapshot) {
	if s.ident == nil || session.Image == nil {
		return
	}
	entry, err := s.entry(session.SessionID)
	if err != nil {
		return
	}
	req := IdentifyRequest{
		SessionID: session.SessionID,
		Image:     *session.Image,
		Retry:     session.Retry,
		Pass:      session.Pass,
		Exclude:   session.Rejected,
	}
	s.track(func() {
		log := s.logger.With("session", session.SessionID)
		result, err := s.ident.Identify(s.ctx, req)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Warn("service identify failed", "err", err)
			if ferr := entry.capture.FailPass(req.Pass, err); ferr != nil {
				log.Debug("service identify failure discarded", "err", ferr)
			}
			return
		}
		subject := result.Subject
		if subject == nil && len(result.Candidates) > 0 {
			subject = &result.Candidates[0]
		}
		if subject == nil {
			if ferr := entry.capture.FailPass(req.Pass, errors.New("no subject identified")); ferr != nil {
				log.Debug("service identify failure discarded", "err", ferr)
			}
			return
		}
		if err := entry.capture.ResolvePass(req.Pass, *subject); err != nil {
			log.Debug("service identify result discarded", "err", err)
			return
		}
		logx.WithSubject(log, subject).Debug("service identify ok", "candidates", len(result.Candidates))
	})
}

func (s *service) onArtifact(artifact schema.Artifact) {
	if s.cards == nil {
		return
	}
	started := s.track(func() {
		log := s.logger.With("session", artifact.SessionID)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), saveTimeout)
		defer cancel()
		card, err := s.cards.Save(ctx, artifact)
		if err != nil {
			log.Error("service card save failed", "err", err)
			return
		}
		log.Info("service card save ok", "card", card.ID, "subject", card.Subject.Title())
		if s.sink == nil {
			return
		}
		event := schema.CaptureEvent{Type: schema.CaptureEventSaved, Card: &card}
		if entry, err := s.entry(artifact.SessionID); err == nil {
			event.Session = entry.capture.Snapshot()
			event.Previous = event.Session.State
		}
		s.sink.OnCaptureEvent(event)
	})
	if !started {
		s.logger.Warn("service card save skipped after close", "session", artifact.SessionID)
	}
}

// track runs fn in a goroutine that Close waits for. It reports false once the
// service is closed.
func (s *service) track(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// sessionEnded closes the capture screen and, once no session is live, lets
// the capture tab take part in resets again.
func (s *service) sessionEnded(session schema.CaptureSnapshot) {
	dest := schema.Destination{Kind: schema.DestinationCapture, Ref: string(session.SessionID)}
	if _, err := s.nav.PopIf(s.cfg.CaptureTab, dest); err != nil {
		s.logger.Warn("service capture screen close failed", "session", session.SessionID, "err", err)
	}
	if s.liveSessions() == 0 {
		if err := s.nav.Unpreserve(s.cfg.CaptureTab); err != nil {
			s.logger.Warn("service capture tab unpreserve failed", "err", err)
		}
	}
}
