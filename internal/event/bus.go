package event

import (
	"fmt"
	"sync"
	"time"
)

// Logger is the logging surface the bus needs. Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type registration struct {
	id      uint64
	handler Handler
}

// Bus is the listener table. The zero value is not usable; use NewBus.
//
// All methods are safe for concurrent use. Handlers may subscribe or
// unsubscribe from inside a callback; the change applies to the next Publish.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]registration
	nextID   uint64

	logger   Logger
	loggerMu sync.RWMutex

	// now is swapped in tests.
	now func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Name][]registration),
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger used for handler failures.
func (b *Bus) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bus) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	bus   *Bus
	names []Name
	id    uint64
	once  sync.Once
}

// Unsubscribe removes the handler from every name it was registered for.
// Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.id, s.names)
	})
}

// Subscribe registers handler for name. Handlers for one name run in the
// order they were registered.
func (b *Bus) Subscribe(name Name, handler Handler) *Subscription {
	return b.SubscribeMany([]Name{name}, handler)
}

// SubscribeMany registers one handler for several names under a single
// subscription handle.
func (b *Bus) SubscribeMany(names []Name, handler Handler) *Subscription {
	if handler == nil {
		panic("event: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	for _, n := range names {
		b.handlers[n] = append(b.handlers[n], registration{id: id, handler: handler})
	}

	return &Subscription{bus: b, names: append([]Name(nil), names...), id: id}
}

func (b *Bus) remove(id uint64, names []Name) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, n := range names {
		regs := b.handlers[n]
		kept := regs[:0:0]
		for _, r := range regs {
			if r.id != id {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(b.handlers, n)
		} else {
			b.handlers[n] = kept
		}
	}
}

// Count returns the number of handlers registered for name.
func (b *Bus) Count(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Publish delivers an event to every handler registered for name and
// returns once they have all run.
func (b *Bus) Publish(name Name, payload any) {
	b.mu.RLock()
	regs := make([]registration, len(b.handlers[name]))
	copy(regs, b.handlers[name])
	b.mu.RUnlock()

	if len(regs) == 0 {
		return
	}

	ev := Event{Name: name, Payload: payload, At: b.now()}
	for _, r := range regs {
		b.deliver(r.handler, ev)
	}
}

// deliver runs one handler, absorbing its error or panic.
func (b *Bus) deliver(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.getLogger().Error("event handler panic recovered",
				"event", string(ev.Name),
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := handler(ev); err != nil {
		b.getLogger().Warn("event handler returned error",
			"event", string(ev.Name),
			"error", err,
		)
	}
}
