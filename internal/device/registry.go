package device

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/homismart-go/internal/event"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher receives registry change notifications. *event.Bus satisfies it.
type Publisher interface {
	Publish(name event.Name, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(event.Name, any) {}

// Registry is the in-memory store of devices and hubs keyed by identifier.
//
// Mutations are expected from one goroutine (the session reader) but every
// method is safe for concurrent use. Events are published after the entry
// lock is released and before the mutating call returns, so listeners see
// changes in the order they were applied.
type Registry struct {
	entries map[string]*Device
	mu      sync.RWMutex

	logger    Logger
	publisher Publisher
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[string]*Device),
		logger:    noopLogger{},
		publisher: noopPublisher{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// SetPublisher sets where change events go. Call before the first Upsert.
func (r *Registry) SetPublisher(p Publisher) {
	if p == nil {
		p = noopPublisher{}
	}
	r.publisher = p
}

// Upsert applies one inbound message for id.
//
// An unseen identifier creates an entry and publishes new_device_added or
// new_hub_added. A known one is updated in place and publishes
// device_updated or hub_updated. The payload is parsed before anything is
// touched; a malformed payload returns ErrInvalidPayload and changes nothing.
func (r *Registry) Upsert(kind Kind, id string, fields map[string]any, raw []byte) (*Device, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if kind != KindDevice && kind != KindHub {
		return nil, fmt.Errorf("device: upsert %s: unsupported kind %d", id, kind)
	}

	p, err := parsePatch(fields, raw)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", id, err)
	}

	r.mu.Lock()
	d, exists := r.entries[id]
	if exists && d.Kind() != kind {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is a %s", ErrKindConflict, id, d.Kind())
	}
	if !exists {
		d = &Device{state: Snapshot{ID: id, Kind: kind, TypeName: TypeUnknown.String()}}
		r.entries[id] = d
	}

	d.mu.Lock()
	p.apply(&d.state, r.now())
	snap := d.state.clone()
	d.mu.Unlock()
	r.mu.Unlock()

	name := updatedEvent(kind)
	if !exists {
		name = addedEvent(kind)
		r.logger.Debug("registry entry added", "id", id, "kind", kind.String(), "type", snap.TypeName)
	}
	r.publisher.Publish(name, snap)

	return d, nil
}

// Get returns the handle for id. The same pointer is returned for as long
// as the entry exists.
func (r *Registry) Get(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[id]
	return d, ok
}

// Snapshot returns a copy of the entry for id.
func (r *Registry) Snapshot(id string) (Snapshot, error) {
	d, ok := r.Get(id)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.Snapshot(), nil
}

// ListDevices returns snapshots of every device, sorted by identifier.
func (r *Registry) ListDevices() []Snapshot {
	return r.list(KindDevice)
}

// ListHubs returns snapshots of every hub, sorted by identifier.
func (r *Registry) ListHubs() []Snapshot {
	return r.list(KindHub)
}

func (r *Registry) list(kind Kind) []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.entries))
	for _, d := range r.entries {
		s := d.Snapshot()
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByName returns the first device whose name matches, ignoring case.
// Devices are searched in identifier order.
func (r *Registry) FindByName(name string) (Snapshot, bool) {
	for _, s := range r.ListDevices() {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Remove deletes the entry for id and publishes device_removed or
// hub_removed with its last snapshot.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	d, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(r.entries, id)
	r.mu.Unlock()

	snap := d.Snapshot()
	r.logger.Debug("registry entry removed", "id", id, "kind", snap.Kind.String())
	r.publisher.Publish(removedEvent(snap.Kind), snap)
	return nil
}

// Clear drops every entry without publishing events. Used on session teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	n := len(r.entries)
	r.entries = make(map[string]*Device)
	r.mu.Unlock()

	r.logger.Debug("registry cleared", "count", n)
}

// Count returns the number of entries of both kinds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	Devices      int                `json:"devices"`
	Hubs         int                `json:"hubs"`
	Online       int                `json:"online"`
	ByCapability map[Capability]int `json:"by_capability"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{ByCapability: make(map[Capability]int)}
	for _, d := range r.entries {
		s := d.Snapshot()
		if s.Kind == KindHub {
			stats.Hubs++
		} else {
			stats.Devices++
			stats.ByCapability[s.Capability]++
		}
		if s.Online {
			stats.Online++
		}
	}
	return stats
}

func addedEvent(k Kind) event.Name {
	if k == KindHub {
		return event.NewHubAdded
	}
	return event.NewDeviceAdded
}

func updatedEvent(k Kind) event.Name {
	if k == KindHub {
		return event.HubUpdated
	}
	return event.DeviceUpdated
}

func removedEvent(k Kind) event.Name {
	if k == KindHub {
		return event.HubRemoved
	}
	return event.DeviceRemoved
}
