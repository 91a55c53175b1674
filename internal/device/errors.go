package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when an identifier is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrKindConflict is returned when an identifier already registered as a
	// device is reported as a hub, or the other way round.
	ErrKindConflict = errors.New("device: identifier registered with another kind")

	// ErrInvalidPayload is returned when a state payload has a field of the wrong shape.
	ErrInvalidPayload = errors.New("device: invalid payload")

	// ErrInvalidID is returned for an empty identifier.
	ErrInvalidID = errors.New("device: invalid identifier")
)
