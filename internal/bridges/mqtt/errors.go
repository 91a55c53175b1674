package mqtt

import "errors"

// Domain errors for the MQTT bridge.
var (
	ErrInvalidOptions = errors.New("mqtt bridge: invalid options")
	ErrInvalidTopic   = errors.New("mqtt bridge: not a device command topic")
	ErrInvalidCommand = errors.New("mqtt bridge: unrecognised command payload")
	ErrBridgeStopped  = errors.New("mqtt bridge: stopped")
	ErrAlreadyStarted = errors.New("mqtt bridge: already started")
)
