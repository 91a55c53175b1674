package transport

import "errors"

// Domain errors for the transport package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the connection cannot be opened.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrNotConnected is returned when sending on a transport that is not open.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrConnectionLost is reported by Err when the remote side or the
	// network ended the connection.
	ErrConnectionLost = errors.New("transport: connection lost")

	// ErrClosed is returned when using a transport after Close.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyConnected is returned by a second Connect call.
	ErrAlreadyConnected = errors.New("transport: already connected")
)
