// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/nerrad567/homismart-go/internal/transport"
)

const fakeBufferSize = 256

// Fake is an in-memory transport.Transport. Frames pushed with Push are
// delivered on Receive; frames passed to Send are recorded.
type Fake struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	ended      bool
	err        error
	sent       [][]byte
	frames     chan []byte
	connectCh  chan struct{}
	connectSig sync.Once

	// OnSend, if set, runs after each successful Send with the frame. It
	// may call Push to script replies.
	OnSend func(f *Fake, frame []byte)
}

// New creates an unconnected Fake.
func New() *Fake {
	return &Fake{
		frames:    make(chan []byte, fakeBufferSize),
		connectCh: make(chan struct{}),
	}
}

// FailConnect makes the next Connect return err.
func (f *Fake) FailConnect(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

// Connect implements transport.Transport.
func (f *Fake) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ended {
		return transport.ErrClosed
	}
	if f.connected {
		return transport.ErrAlreadyConnected
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.connectSig.Do(func() { close(f.connectCh) })
	return nil
}

// Connected is closed once Connect has succeeded.
func (f *Fake) Connected() <-chan struct{} {
	return f.connectCh
}

// Send implements transport.Transport.
func (f *Fake) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	if !f.connected || f.ended {
		f.mu.Unlock()
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, append([]byte(nil), frame...))
	hook := f.OnSend
	f.mu.Unlock()

	if hook != nil {
		hook(f, frame)
	}
	return nil
}

// Receive implements transport.Transport.
func (f *Fake) Receive() <-chan []byte {
	return f.frames
}

// Err implements transport.Transport.
func (f *Fake) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close implements transport.Transport.
func (f *Fake) Close() error {
	f.end(nil)
	return nil
}

// Push queues an inbound frame. It reports false if the connection has ended.
func (f *Fake) Push(frame string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return false
	}
	select {
	case f.frames <- []byte(frame):
		return true
	default:
		panic("transporttest: receive buffer full")
	}
}

// Drop simulates the remote side ending the connection with err.
func (f *Fake) Drop(err error) {
	if err == nil {
		err = transport.ErrConnectionLost
	}
	f.end(err)
}

func (f *Fake) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return
	}
	f.ended = true
	f.connected = false
	f.err = err
	close(f.frames)
}

// Sent returns copies of every frame passed to Send.
func (f *Fake) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	for i, s := range f.sent {
		out[i] = append([]byte(nil), s...)
	}
	return out
}

// Closed reports whether Close or Drop has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}
