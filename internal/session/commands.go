package session

import (
	"context"
	"errors"

	"github.com/nerrad567/homismart-go/internal/protocol"
)

// Commands understood by switchable devices.
const (
	CommandTurnOn  = "turn_on"
	CommandTurnOff = "turn_off"
)

// switchCommands need the switchable capability.
var switchCommands = map[string]bool{
	CommandTurnOn:  true,
	CommandTurnOff: true,
}

// SendCommand sends command with params to the device identified by id.
//
// Validation happens before any I/O: the session must be authenticated,
// the target must be in the registry and must support the command.
// Success means the frame was written; confirmation arrives later as a
// device_updated event.
func (s *Session) SendCommand(ctx context.Context, id, command string, params map[string]any) error {
	tr, ok := s.currentTransport()
	if !ok {
		return s.reject(id, command, ErrNotAuthenticated)
	}

	d, ok := s.registry.Get(id)
	if !ok {
		return s.reject(id, command, ErrUnknownDevice)
	}
	if switchCommands[command] && !d.IsSwitchable() {
		return s.reject(id, command, ErrUnsupportedCommand)
	}

	frame, err := protocol.EncodeCommand(id, command, params)
	if err != nil {
		return s.reject(id, command, err)
	}
	if err := tr.Send(ctx, frame); err != nil {
		s.logger.Warn("sending command", "id", id, "command", command, "error", err)
		return s.reject(id, command, err)
	}

	s.metrics.CommandSent(command)
	s.logger.Debug("command sent", "id", id, "command", command)
	return nil
}

// TurnOn switches a switchable device on.
func (s *Session) TurnOn(ctx context.Context, id string) error {
	return s.SendCommand(ctx, id, CommandTurnOn, nil)
}

// TurnOff switches a switchable device off.
func (s *Session) TurnOff(ctx context.Context, id string) error {
	return s.SendCommand(ctx, id, CommandTurnOff, nil)
}

// Toggle sends the opposite of the device's last known power state.
func (s *Session) Toggle(ctx context.Context, id string) error {
	d, ok := s.registry.Get(id)
	if !ok {
		// Let SendCommand pick the error so authentication is checked first.
		return s.SendCommand(ctx, id, CommandTurnOn, nil)
	}
	if d.IsOn() {
		return s.TurnOff(ctx, id)
	}
	return s.TurnOn(ctx, id)
}

func (s *Session) reject(id, command string, err error) error {
	s.metrics.CommandRejected(rejectReason(err))
	return &CommandError{DeviceID: id, Command: command, Err: err}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, ErrUnsupportedCommand):
		return "unsupported"
	default:
		return "send_failed"
	}
}
