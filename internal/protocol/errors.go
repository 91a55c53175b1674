package protocol

import "errors"

// Domain errors for the protocol package.
var (
	// ErrMalformedFrame is returned when an inbound frame cannot be decoded:
	// too short, an unknown code, or a body that is not a JSON object.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrMissingID is returned when a state or removal frame carries no identifier.
	ErrMissingID = errors.New("protocol: frame has no identifier")
)
