// Package transport owns the physical connection to the Homismart service.
//
// A Transport is single use: Connect once, exchange frames, Close. When the
// connection ends for any reason the Receive channel is closed and Err
// reports why. Reconnecting means building a new Transport through a Factory.
package transport

import (
	"context"
	"sync"
)

// Transport sends and receives discrete frames over one connection.
type Transport interface {
	// Connect opens the connection. It fails with ErrConnectionFailed on
	// network or TLS errors and ErrClosed if Close was already called.
	Connect(ctx context.Context) error

	// Send writes one frame. It fails with ErrNotConnected before Connect or
	// after the connection ended.
	Send(ctx context.Context, frame []byte) error

	// Receive returns the inbound frame stream. The channel is closed when
	// the connection ends and is never reopened.
	Receive() <-chan []byte

	// Err returns why the Receive channel closed. It is nil while the
	// connection is open and after a local Close.
	Err() error

	// Close ends the connection. Safe to call more than once.
	Close() error
}

// Factory builds a fresh, unconnected Transport for each connection attempt.
type Factory func() Transport

// Logger is the logging surface transports use. Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) isClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}
