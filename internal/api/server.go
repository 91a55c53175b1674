package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/homismart-go/internal/device"
	"github.com/nerrad567/homismart-go/internal/event"
	"github.com/nerrad567/homismart-go/internal/infrastructure/config"
	"github.com/nerrad567/homismart-go/internal/infrastructure/logging"
	"github.com/nerrad567/homismart-go/internal/infrastructure/metrics"
	"github.com/nerrad567/homismart-go/internal/session"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Session is the part of session.Session the API uses.
type Session interface {
	State() session.State
	Username() string
	Devices() []device.Snapshot
	Hubs() []device.Snapshot
	Device(id string) (*device.Device, bool)
	Stats() device.Stats
	SendCommand(ctx context.Context, id, command string, params map[string]any) error
	Toggle(ctx context.Context, id string) error
	Subscribe(names []event.Name, handler event.Handler) *event.Subscription
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Session Session
	Metrics *metrics.Metrics // optional; enables /metrics and request counting
	Version string
}

// Server is the local HTTP API server.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	session  Session
	metrics  *metrics.Metrics
	version  string
	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	eventSub *event.Subscription
	closeMu  sync.Mutex
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		session: deps.Session,
		metrics: deps.Metrics,
		version: deps.Version,
		hub:     NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start relays session events to the WebSocket hub and begins listening
// in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.eventSub = s.session.Subscribe(event.Names, s.relayEvent)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       config.Seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: config.Seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      config.Seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       config.Seconds(s.cfg.Timeouts.Idle),
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops relaying events and shuts the server down gracefully.
func (s *Server) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.server == nil {
		return nil
	}
	if s.eventSub != nil {
		s.eventSub.Unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is listening.
func (s *Server) HealthCheck(_ context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.server == nil {
		return fmt.Errorf("API server not running")
	}
	return nil
}

// relayEvent forwards one bus event to WebSocket subscribers.
func (s *Server) relayEvent(ev event.Event) error {
	s.hub.Broadcast(string(ev.Name), ev.Payload, ev.At)
	return nil
}
