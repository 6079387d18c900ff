package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/carspot/core"
	"pkt.systems/carspot/internal/eventbus"
	"pkt.systems/carspot/internal/logx"
	"pkt.systems/carspot/schema"
)

const shutdownTimeout = 10 * time.Second

// ImageSource serves the stored photo of a card.
type ImageSource interface {
	Image(ctx context.Context, id schema.CardID) ([]byte, string, error)
}

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	service  core.Service
	hub      *Hub
	images   ImageSource
	basePath string
}

// NewServer constructs an HTTP server. images may be nil.
func NewServer(cfg Config, service core.Service, hub *Hub, images ImageSource) *Server {
	if hub == nil {
		hub = NewHub(cfg.HubHistory, nil)
	}
	return &Server{
		cfg:      cfg,
		service:  service,
		hub:      hub,
		images:   images,
		basePath: normalizeBasePath(cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tabs", s.handleListTabs)
	mux.HandleFunc("GET /api/tabs/{tab}/path", s.handleGetPath)
	mux.HandleFunc("POST /api/tabs/{tab}/push", s.handlePush)
	mux.HandleFunc("POST /api/tabs/{tab}/pop", s.handlePop)
	mux.HandleFunc("POST /api/tabs/{tab}/root", s.handlePopToRoot)
	mux.HandleFunc("POST /api/tabs/{tab}/preserve", s.handlePreserve(true))
	mux.HandleFunc("DELETE /api/tabs/{tab}/preserve", s.handlePreserve(false))
	mux.HandleFunc("POST /api/reset", s.handleReset)

	mux.HandleFunc("POST /api/captures", s.handleStartCapture)
	mux.HandleFunc("GET /api/captures/{id}", s.handleGetCapture)
	mux.HandleFunc("POST /api/captures/{id}/photo", s.handlePhoto)
	mux.HandleFunc("POST /api/captures/{id}/identification", s.handleIdentification)
	mux.HandleFunc("POST /api/captures/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("POST /api/captures/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /api/captures/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /api/captures/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/captures/{id}/fail", s.handleFail)

	mux.HandleFunc("GET /api/cards", s.handleListCards)
	mux.HandleFunc("GET /api/cards/{id}", s.handleGetCard)
	mux.HandleFunc("GET /api/cards/{id}/image", s.handleCardImage)

	mux.HandleFunc("GET /api/stream", s.handleStream)

	handler := withRequestLogging(mux, captureSessionFromPath)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.ListTabs(r.Context(), schema.ListTabsRequest{})
	if err != nil {
		s.fail(w, r, "http list tabs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tabs":        resp.Tabs,
		"trigger":     resp.Trigger,
		"orientation": resp.Orientation,
	})
}

func (s *Server) handleGetPath(w http.ResponseWriter, r *http.Request) {
	tab, err := schema.ParseTabID(r.PathValue("tab"))
	if err != nil {
		s.fail(w, r, "http get path rejected", err)
		return
	}
	resp, err := s.service.GetPath(r.Context(), schema.GetPathRequest{Tab: tab})
	if err != nil {
		s.fail(w, r, "http get path failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab": resp.Tab, "trigger": resp.Trigger})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	tab, err := schema.ParseTabID(r.PathValue("tab"))
	if err != nil {
		s.fail(w, r, "http push rejected", err)
		return
	}
	var payload struct {
		Kind string `json:"kind"`
		Ref  string `json:"ref"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		s.fail(w, r, "http push decode failed", fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	dest := schema.Destination{Kind: schema.DestinationKind(payload.Kind), Ref: payload.Ref}
	resp, err := s.service.Push(logx.ContextWithTab(r.Context(), tab), schema.PushRequest{Tab: tab, Destination: dest})
	if err != nil {
		s.fail(w, r, "http push failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab": resp.Tab})
}

func (s *Server) handlePop(w http.ResponseWriter, r *http.Request) {
	tab, err := schema.ParseTabID(r.PathValue("tab"))
	if err != nil {
		s.fail(w, r, "http pop rejected", err)
		return
	}
	resp, err := s.service.Pop(logx.ContextWithTab(r.Context(), tab), schema.PopRequest{Tab: tab})
	if err != nil {
		s.fail(w, r, "http pop failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"popped": resp.Popped, "tab": resp.Tab})
}

func (s *Server) handlePopToRoot(w http.ResponseWriter, r *http.Request) {
	tab, err := schema.ParseTabID(r.PathValue("tab"))
	if err != nil {
		s.fail(w, r, "http root rejected", err)
		return
	}
	resp, err := s.service.PopToRoot(logx.ContextWithTab(r.Context(), tab), schema.PopToRootRequest{Tab: tab})
	if err != nil {
		s.fail(w, r, "http root failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab": resp.Tab})
}

func (s *Server) handlePreserve(preserve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tab, err := schema.ParseTabID(r.PathValue("tab"))
		if err != nil {
			s.fail(w, r, "http preserve rejected", err)
			return
		}
		resp, err := s.service.SetPreserved(logx.ContextWithTab(r.Context(), tab), schema.PreserveRequest{Tab: tab, Preserve: preserve})
		if err != nil {
			s.fail(w, r, "http preserve failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tab": resp.Tab})
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.TriggerReset(r.Context(), schema.TriggerResetRequest{})
	if err != nil {
		s.fail(w, r, "http reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trigger": resp.Trigger, "tabs": resp.Tabs})
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Retry bool `json:"retry"`
	}
	if err := decodeOptionalJSON(r.Body, &payload); err != nil {
		s.fail(w, r, "http capture start decode failed", fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	resp, err := s.service.StartCapture(r.Context(), schema.StartCaptureRequest{Retry: payload.Retry})
	if err != nil {
		s.fail(w, r, "http capture start failed", err)
		return
	}
	w.Header().Set("Location", joinBasePath(s.basePath, "/api/captures/"+string(resp.Session.SessionID)))
	writeJSON(w, http.StatusCreated, map[string]any{"session": resp.Session})
}

func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	id := schema.SessionID(r.PathValue("id"))
	resp, err := s.service.GetCapture(r.Context(), schema.GetCaptureRequest{SessionID: id})
	if err != nil {
		s.fail(w, r, "http capture get failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session})
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	id := schema.SessionID(r.PathValue("id"))
	width, werr := parseDimension(r.Header.Get("X-Image-Width"))
	height, herr := parseDimension(r.Header.Get("X-Image-Height"))
	if err := errors.Join(werr, herr); err != nil {
		s.fail(w, r, "http photo rejected", fmt.Errorf("%w: %v", schema.ErrInvalidImage, err))
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, schema.MaxImageBytes))
	if err != nil {
		s.fail(w, r, "http photo read failed", fmt.Errorf("%w: %v", schema.ErrInvalidImage, err))
		return
	}
	img := schema.Image{Data: data, Width: width, Height: height, ContentType: r.Header.Get("Content-Type")}
	ctx := logx.ContextWithSession(r.Context(), id)
	resp, err := s.service.SubmitPhoto(ctx, schema.SubmitPhotoRequest{SessionID: id, Image: img})
	if err != nil {
		s.fail(w, r, "http photo failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session})
}

func (s *Server) handleIdentification(w http.ResponseWriter, r *http.Request) {
	id := schema.SessionID(r.PathValue("id"))
	var subject schema.Subject
	if err := decodeJSON(r.Body, &subject); err != nil {
		s.fail(w, r, "http identification decode failed", fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	ctx := logx.ContextWithSession(r.Context(), id)
	resp, err := s.service.ResolveIdentification(ctx, schema.ResolveIdentificationRequest{SessionID: id, Subject: subject})
	if err != nil {
		s.fail(w, r, "http identification failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := schema.SessionID(r.PathValue("id"))
	ctx := logx.ContextWithSession(r.Context(), id)
	resp, err := s.service.ConfirmCapture(ctx, schema.ConfirmCaptureRequest{SessionID: id})
	if err != nil {
		s.fail(w, r, "http confirm failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session, "artifact": resp.Artifact})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := schema.SessionID(r.PathValue("id"))
	ctx := logx.ContextWithSession(r.Context(), id)
	resp, err := s.service.RejectSubject(ctx, schema.RejectSubjectRequest{SessionID: id})
	if err != nil {
		s.fail(w, r, "http reject failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := schema.SessionID(r.PathValue("id"))
	ctx := logx.ContextWithSession(r.Context(), id)
	resp, err := s.service.StartCapture(ctx, schema.StartCaptureRequest{SessionID: id, Retry: true})
	if err != nil {
		s.fail(w, r, "http retry failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := schema.SessionID(r.PathValue("id"))
	ctx := logx.ContextWithSession(r.Context(), id)
	resp, err := s.service.CancelCapture(ctx, schema.CancelCaptureRequest{SessionID: id})
	if err != nil {
		s.fail(w, r, "http cancel failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session})
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	id := schema.SessionID(r.PathValue("id"))
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeOptionalJSON(r.Body, &payload); err != nil {
		s.fail(w, r, "http fail decode failed", fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	ctx := logx.ContextWithSession(r.Context(), id)
	resp, err := s.service.FailCapture(ctx, schema.FailCaptureRequest{SessionID: id, Reason: payload.Reason})
	if err != nil {
		s.fail(w, r, "http fail failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": resp.Session})
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	kind := schema.SubjectKind(strings.ToLower(strings.TrimSpace(query.Get("kind"))))
	if kind != "" && kind != schema.SubjectVehicle && kind != schema.SubjectDriver {
		s.fail(w, r, "http cards rejected", fmt.Errorf("%w: unknown kind %q", schema.ErrInvalidRequest, kind))
		return
	}
	resp, err := s.service.ListCards(r.Context(), schema.ListCardsRequest{Kind: kind, Limit: parseInt(query.Get("limit"), 0)})
	if err != nil {
		s.fail(w, r, "http cards failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": resp.Cards})
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.GetCard(r.Context(), schema.GetCardRequest{ID: schema.CardID(r.PathValue("id"))})
	if err != nil {
		s.fail(w, r, "http card failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": resp.Card})
}

func (s *Server) handleCardImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		s.fail(w, r, "http card image failed", schema.ErrCardNotFound)
		return
	}
	data, contentType, err := s.images.Image(r.Context(), schema.CardID(r.PathValue("id")))
	if err != nil {
		s.fail(w, r, "http card image failed", err)
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	query := r.URL.Query()
	filter := eventbus.Filter{Session: schema.SessionID(query.Get("session"))}
	if raw := query.Get("tab"); raw != "" {
		tab, err := schema.ParseTabID(raw)
		if err != nil {
			s.fail(w, r, "http stream rejected", err)
			return
		}
		filter.Tab = tab
	}
	log := logx.Ctx(r.Context()).With("tab", filter.Tab, "session", filter.Session)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	ch, unsubscribe, seq := s.hub.Subscribe(filter)
	defer unsubscribe()

	tabs, err := s.service.ListTabs(r.Context(), schema.ListTabsRequest{})
	if err != nil {
		log.Warn("http stream snapshot failed", "err", err)
		return
	}
	_ = writeSSEvent(w, StreamEvent{
		Seq:       seq,
		Type:      "snapshot",
		Snapshot:  &SnapshotPayload{Tabs: tabs.Tabs, Trigger: tabs.Trigger, Orientation: tabs.Orientation},
		Timestamp: time.Now(),
	})
	replayCount := 0
	if lastID > 0 && lastID < seq {
		replay := s.hub.Replay(filter, lastID, seq)
		replayCount = len(replay)
		for _, event := range replay {
			_ = writeSSEvent(w, event)
		}
	}
	flusher.Flush()

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount, "tabs", len(tabs.Tabs))
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	log := logx.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "status", status, "err", err)
	} else {
		log.Warn(msg, "status", status, "err", err)
	}
	writeError(w, status, err)
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrInvalidTab),
		errors.Is(err, schema.ErrInvalidDestination),
		errors.Is(err, schema.ErrInvalidImage),
		errors.Is(err, schema.ErrInvalidSubject),
		errors.Is(err, schema.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrSessionNotFound), errors.Is(err, schema.ErrCardNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, schema.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, schema.ErrServiceClosed), errors.Is(err, schema.ErrIdentifierUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(body io.Reader, target any) error {
	if err := decodeJSON(body, target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data)
	return err
}

func parseUint(value string) uint64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt(value string, fallback int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDimension(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("bad dimension %q", value)
	}
	return parsed, nil
}
