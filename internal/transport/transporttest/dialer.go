package transporttest

import (
	"sync"

	"github.com/nerrad567/homismart-go/internal/transport"
)

// Dialer hands out a new Fake for every connection attempt and keeps them
// all so tests can script each attempt.
type Dialer struct {
	// Setup, if set, configures the n-th Fake (starting at 1) before it is
	// returned to the caller.
	Setup func(n int, f *Fake)

	mu      sync.Mutex
	created []*Fake
	dialed  chan *Fake
}

// NewDialer creates a Dialer with the given per-attempt setup.
func NewDialer(setup func(n int, f *Fake)) *Dialer {
	return &Dialer{Setup: setup, dialed: make(chan *Fake, fakeBufferSize)}
}

// Factory returns a transport.Factory backed by the dialer.
func (d *Dialer) Factory() transport.Factory {
	return func() transport.Transport {
		f := New()
		d.mu.Lock()
		d.created = append(d.created, f)
		n := len(d.created)
		d.mu.Unlock()

		if d.Setup != nil {
			d.Setup(n, f)
		}
		select {
		case d.dialed <- f:
		default:
		}
		return f
	}
}

// Dialed delivers each Fake as it is created. Deliveries beyond the
// buffer are dropped rather than blocking the caller.
func (d *Dialer) Dialed() <-chan *Fake {
	return d.dialed
}

// Count returns how many transports have been created.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.created)
}

// Get returns the n-th Fake (starting at 1), or nil.
func (d *Dialer) Get(n int) *Fake {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n < 1 || n > len(d.created) {
		return nil
	}
	return d.created[n-1]
}
