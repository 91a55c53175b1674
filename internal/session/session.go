package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/homismart-go/internal/auth"
	"github.com/nerrad567/homismart-go/internal/device"
	"github.com/nerrad567/homismart-go/internal/event"
	"github.com/nerrad567/homismart-go/internal/transport"
)

// Session is the client's handle on one Homismart account.
//
// It is safe for concurrent use. Event handlers run on the connection
// goroutine and must not block for long.
type Session struct {
	creds    auth.Credentials
	factory  transport.Factory
	policy   ReconnectPolicy
	login    *auth.Controller
	registry *device.Registry
	bus      *event.Bus
	router   *router
	logger   Logger
	metrics  Metrics

	// announceMu orders state changes with their announcements. Taken
	// before mu.
	announceMu sync.Mutex

	mu       sync.Mutex
	state    State
	stateCh  chan struct{} // closed and replaced on every transition
	tr       transport.Transport
	username string
	failure  error
	running  bool
	torndown bool
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New creates a disconnected Session.
func New(opts Options) (*Session, error) {
	if err := opts.Credentials.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("%w: transport factory is required", ErrInvalidOptions)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	m := opts.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	bus := opts.Bus
	if bus == nil {
		bus = event.NewBus()
	}
	bus.SetLogger(logger)

	registry := device.NewRegistry()
	registry.SetLogger(logger)
	registry.SetPublisher(bus)

	s := &Session{
		creds:    opts.Credentials,
		factory:  opts.Transport,
		policy:   opts.Reconnect.withDefaults(),
		login:    auth.NewController(opts.Credentials, opts.LoginTimeout, logger),
		registry: registry,
		bus:      bus,
		logger:   logger,
		metrics:  m,
		state:    Disconnected,
		stateCh:  make(chan struct{}),
	}
	s.router = &router{registry: registry, bus: bus, logger: logger, metrics: m}
	return s, nil
}

// Connect runs the connection manager until the session stops, the
// credentials are rejected, the reconnect policy gives up, or ctx is
// cancelled. Run it on its own goroutine to use the session in the
// background; WaitAuthenticated reports when it is ready.
//
// It returns nil after Disconnect, an error wrapping
// auth.ErrAuthenticationFailed or ErrRetriesExhausted on terminal failure,
// and ctx.Err() when ctx ends the session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.loopDone = done
	s.failure = nil
	s.mu.Unlock()

	err := s.run(runCtx)
	cancel()

	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.mu.Unlock()
	close(done)

	return err
}

// Disconnect stops the session: it moves to Stopped, closes the transport,
// waits for Connect to return, clears the registry and publishes
// session_stopped. Stopped is terminal. Calling Disconnect again is a no-op.
func (s *Session) Disconnect(ctx context.Context) error {
	first, done := s.shutdown()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if first {
		s.teardown()
	}
	return nil
}

// shutdown moves to Stopped and interrupts the connection manager. first
// is true for the call that should tear down; done is closed when a
// running Connect has returned.
func (s *Session) shutdown() (first bool, done <-chan struct{}) {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()

	s.mu.Lock()
	if s.running {
		done = s.loopDone
	}
	if s.torndown {
		s.mu.Unlock()
		return false, done
	}
	s.torndown = true

	from := s.state
	changed := from != Stopped
	if changed {
		s.setStateLocked(Stopped)
	}
	tr := s.tr
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			s.logger.Debug("closing transport", "error", err)
		}
	}
	if changed {
		s.announce(from, Stopped)
	}
	return true, done
}

func (s *Session) teardown() {
	s.registry.Clear()
	s.logger.Info("session stopped")
	s.bus.Publish(event.SessionStopped, nil)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether a transport is open, authenticated or not.
func (s *Session) IsConnected() bool {
	st := s.State()
	return st == ConnectedUnauthenticated || st == Authenticated
}

// IsLoggedIn reports whether the session is authenticated.
func (s *Session) IsLoggedIn() bool {
	return s.State() == Authenticated
}

// Username returns the identity confirmed at the last login.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Err returns the terminal failure that ended the last Connect, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// WaitAuthenticated blocks until the session is authenticated, fails
// terminally, stops, or ctx ends.
func (s *Session) WaitAuthenticated(ctx context.Context) error {
	for {
		s.mu.Lock()
		st, ch, failure := s.state, s.stateCh, s.failure
		s.mu.Unlock()

		switch {
		case st == Authenticated:
			return nil
		case failure != nil:
			return failure
		case st == Stopped:
			return ErrStopped
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// RegisterEventListener subscribes handler to one event name.
func (s *Session) RegisterEventListener(name event.Name, handler event.Handler) *event.Subscription {
	return s.bus.Subscribe(name, handler)
}

// Subscribe subscribes handler to several event names at once.
func (s *Session) Subscribe(names []event.Name, handler event.Handler) *event.Subscription {
	return s.bus.SubscribeMany(names, handler)
}

// Bus returns the session's event bus.
func (s *Session) Bus() *event.Bus {
	return s.bus
}

// Devices returns snapshots of all non-hub entries, sorted by ID.
func (s *Session) Devices() []device.Snapshot {
	return s.registry.ListDevices()
}

// Hubs returns snapshots of all hubs, sorted by ID.
func (s *Session) Hubs() []device.Snapshot {
	return s.registry.ListHubs()
}

// Device returns the live handle for id.
func (s *Session) Device(id string) (*device.Device, bool) {
	return s.registry.Get(id)
}

// FindDeviceByName returns the first entry whose name matches,
// ignoring case.
func (s *Session) FindDeviceByName(name string) (device.Snapshot, bool) {
	return s.registry.FindByName(name)
}

// Stats returns registry counts.
func (s *Session) Stats() device.Stats {
	return s.registry.GetStats()
}

// transition moves to next if the table allows it and announces the change.
func (s *Session) transition(next State) error {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()

	s.mu.Lock()
	from := s.state
	if from == Stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if !from.CanTransition(next) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	s.setStateLocked(next)
	s.mu.Unlock()

	s.announce(from, next)
	return nil
}

// setStateLocked must be called with s.mu held.
func (s *Session) setStateLocked(next State) {
	s.state = next
	close(s.stateCh)
	s.stateCh = make(chan struct{})
}

// publishIn publishes name only while the session is still in st, so an
// announcement never trails a later state change.
func (s *Session) publishIn(st State, name event.Name, payload any) bool {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()

	if s.State() != st {
		return false
	}
	s.bus.Publish(name, payload)
	return true
}

// announce must be called with announceMu held.
func (s *Session) announce(from, to State) {
	s.metrics.StateChanged(from.String(), to.String())
	s.logger.Debug("session state changed", "from", from.String(), "to", to.String())
	s.bus.Publish(event.SessionStateChanged, event.StateChange{From: from.String(), To: to.String()})
}

// currentTransport returns the open transport if the session is authenticated.
func (s *Session) currentTransport() (transport.Transport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Authenticated || s.tr == nil {
		return nil, false
	}
	return s.tr, true
}
