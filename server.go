// Package carspot composes the core service with its card store, identifier,
// event fanout and HTTP API.
package carspot

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/carspot/core"
	"pkt.systems/carspot/httpapi"
	"pkt.systems/carspot/internal/cards"
	"pkt.systems/carspot/internal/eventbus"
	"pkt.systems/carspot/internal/identify"
	"pkt.systems/carspot/schema"
	"pkt.systems/pslog"
)

// Server composes the service and its optional HTTP API.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Service is the in-process core service.
	Service() core.Service
	// Bus delivers filtered events to in-process clients.
	Bus() *eventbus.Bus
	// Addr is the bound HTTP address once started, or "" without HTTP.
	Addr() string
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service  schema.ServiceConfig
	HTTP     httpapi.Config
	Identify IdentifyConfig
	Cards    CardsConfig
}

// IdentifyConfig configures the catalog identifier.
type IdentifyConfig struct {
	Enabled     bool
	CatalogPath string
	// Watch reloads the catalog when the file changes.
	Watch   bool
	Latency time.Duration
}

// CardsConfig configures the card store.
type CardsConfig struct {
	// DBPath is the SQLite file. Empty disables card storage.
	DBPath string
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
}

// WithHTTP enables the HTTP API server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// New constructs a composable carspot server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized

	serviceDeps := deps.ServiceDeps
	logger := serviceDeps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
		serviceDeps.Logger = logger
	}

	var store *cards.Store
	if cfg.Cards.DBPath != "" && serviceDeps.Cards == nil {
		store, err = cards.Open(cfg.Cards.DBPath, logger)
		if err != nil {
			return nil, err
		}
		serviceDeps.Cards = store
	}
	closeStore := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	var ident *identify.CatalogIdentifier
	if cfg.Identify.Enabled && serviceDeps.Identifier == nil {
		ident, err = identify.New(identify.Options{
			CatalogPath: cfg.Identify.CatalogPath,
			Latency:     cfg.Identify.Latency,
			Logger:      logger,
		})
		if err != nil {
			closeStore()
			return nil, err
		}
		serviceDeps.Identifier = ident
	}

	bus := eventbus.New(logger)
	var hub *httpapi.Hub
	if options.enableHTTP {
		hub = httpapi.NewHub(cfg.HTTP.HubHistory, logger)
	}
	sinks := make([]core.EventSink, 0, 3)
	if serviceDeps.EventSink != nil {
		sinks = append(sinks, serviceDeps.EventSink)
	}
	sinks = append(sinks, bus)
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if len(sinks) == 1 {
		serviceDeps.EventSink = sinks[0]
	} else {
		serviceDeps.EventSink = eventFanout{sinks: sinks}
	}

	service, err := core.NewService(cfg.Service, serviceDeps)
	if err != nil {
		closeStore()
		return nil, err
	}

	var httpSrv *httpapi.Server
	if options.enableHTTP {
		var images httpapi.ImageSource
		if store != nil {
			images = store
		} else if src, ok := serviceDeps.Cards.(httpapi.ImageSource); ok {
			images = src
		}
		httpSrv = httpapi.NewServer(cfg.HTTP, service, hub, images)
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
		bus:     bus,
		httpSrv: httpSrv,
		ident:   ident,
		store:   store,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service core.Service
	bus     *eventbus.Bus
	httpSrv *httpapi.Server
	ident   *identify.CatalogIdentifier
	store   *cards.Store
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	addr    string
	started bool
	stopped bool
}

func (s *compositeServer) Service() core.Service { return s.service }

func (s *compositeServer) Bus() *eventbus.Bus { return s.bus }

func (s *compositeServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.logger = pslog.Ctx(s.ctx)
	log := s.logger
	if s.options.enableHTTP && s.httpSrv != nil {
		ln, err := httpapi.Listen(s.ctx, s.cfg.HTTP.Addr)
		if err != nil {
			s.cancel()
			s.mu.Unlock()
			log.Error("http listen failed", "addr", s.cfg.HTTP.Addr, "err", err)
			return err
		}
		s.addr = ln.Addr().String()
		go func() {
			if err := httpapi.Serve(s.ctx, ln, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	s.started = true
	s.mu.Unlock()

	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"http_addr", s.addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"identify", s.ident != nil,
		"cards", s.cfg.Cards.DBPath,
	)
	if s.ident != nil && s.cfg.Identify.Watch {
		go func() {
			if err := s.ident.Watch(s.ctx); err != nil {
				log.Warn("identify watch failed", "err", err)
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

// Stop cancels the listeners, closes the service so live sessions end and
// pending saves finish, then closes the card store.
func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	log := s.logger
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	var errs []error
	if err := s.service.Close(ctx); err != nil {
		log.Warn("server service close failed", "err", err)
		errs = append(errs, err)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn("server card store close failed", "err", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Info("server stopped")
	return nil
}
