package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/homismart-go/internal/device"
)

// StateMessage is the retained payload of a device or hub state topic.
type StateMessage struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Capability string `json:"capability,omitempty"`
	Online     bool   `json:"online"`
	On         *bool  `json:"on,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// NewStateMessage converts a registry snapshot.
func NewStateMessage(s device.Snapshot) StateMessage {
	msg := StateMessage{
		ID:         s.ID,
		Kind:       s.Kind.String(),
		Name:       s.Name,
		Type:       s.TypeName,
		Capability: string(s.Capability),
		Online:     s.Online,
		UpdatedAt:  s.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if s.Switch != nil {
		on := s.Switch.On
		msg.On = &on
	}
	return msg
}

// SessionMessage is the retained payload of the session topic.
type SessionMessage struct {
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Action is a parsed command from a set topic.
type Action string

// Actions accepted on set topics.
const (
	ActionOn     Action = "on"
	ActionOff    Action = "off"
	ActionToggle Action = "toggle"
)

// setPayload is the JSON form of a command.
type setPayload struct {
	On    *bool  `json:"on"`
	State string `json:"state"`
}

// ParseAction reads a set payload: ON, OFF or TOGGLE in any case, or a
// JSON object {"on":bool} or {"state":"ON"}.
func ParseAction(payload []byte) (Action, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidCommand)
	}

	if trimmed[0] == '{' {
		var p setPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		if p.On != nil {
			if *p.On {
				return ActionOn, nil
			}
			return ActionOff, nil
		}
		return parseWord(p.State)
	}
	return parseWord(string(trimmed))
}

func parseWord(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "true":
		return ActionOn, nil
	case "off", "0", "false":
		return ActionOff, nil
	case "toggle":
		return ActionToggle, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
}
