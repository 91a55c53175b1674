package session

import (
	"errors"
	"fmt"
)

// Domain errors for the session package.
var (
	// ErrNotAuthenticated is wrapped by CommandError when a command is
	// issued while the session is not authenticated.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrUnknownDevice is wrapped by CommandError when the target is not
	// in the registry.
	ErrUnknownDevice = errors.New("session: unknown device")

	// ErrUnsupportedCommand is wrapped by CommandError when the target's
	// capability does not accept the command.
	ErrUnsupportedCommand = errors.New("session: command not supported by device")

	// ErrStopped is returned when using a session after it stopped.
	ErrStopped = errors.New("session: stopped")

	// ErrAlreadyRunning is returned by a second concurrent Connect.
	ErrAlreadyRunning = errors.New("session: connect already running")

	// ErrRetriesExhausted is returned by Connect when the reconnect policy's
	// attempt limit was reached.
	ErrRetriesExhausted = errors.New("session: reconnect attempts exhausted")

	// ErrInvalidTransition indicates a state change the transition table forbids.
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("session: invalid options")
)

// CommandError is returned synchronously by command calls. Err is one of
// ErrNotAuthenticated, ErrUnknownDevice, ErrUnsupportedCommand, or the
// transport error that prevented the send.
type CommandError struct {
	DeviceID string
	Command  string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("session: command %s on %q: %v", e.Command, e.DeviceID, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
