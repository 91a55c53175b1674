package device

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Kind separates end devices from hubs. Both share one identifier space.
type Kind int

const (
	// KindDevice is an end device such as a socket or light.
	KindDevice Kind = iota + 1
	// KindHub is a controller node.
	KindHub
)

// String returns "device" or "hub".
func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindHub:
		return "hub"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "device":
		*k = KindDevice
	case "hub":
		*k = KindHub
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidPayload, text)
	}
	return nil
}

// Capability tags what a device can do.
type Capability string

const (
	// CapabilitySwitchable devices expose on/off.
	CapabilitySwitchable Capability = "switchable"
	// CapabilityUnknown devices are stored and reported but accept no typed commands.
	CapabilityUnknown Capability = "unknown"
	// CapabilityNone is used for hubs.
	CapabilityNone Capability = ""
)

// TypeCode is the numeric device type reported by the service.
type TypeCode int

// Known type codes.
const (
	TypeUnknown TypeCode = 0
	TypeSocket  TypeCode = 1
	TypeSwitch  TypeCode = 2
	TypeLight   TypeCode = 3
	TypeCurtain TypeCode = 4
	TypeLock    TypeCode = 5
	TypeShutter TypeCode = 6
	TypeHub     TypeCode = 9
)

var typeNames = map[TypeCode]string{
	TypeUnknown: "unknown",
	TypeSocket:  "socket",
	TypeSwitch:  "switch",
	TypeLight:   "light",
	TypeCurtain: "curtain",
	TypeLock:    "lock",
	TypeShutter: "shutter",
	TypeHub:     "hub",
}

// typeAliases maps textual type names onto codes.
var typeAliases = map[string]TypeCode{
	"socket":     TypeSocket,
	"plug":       TypeSocket,
	"switch":     TypeSwitch,
	"switchable": TypeSwitch,
	"light":      TypeLight,
	"curtain":    TypeCurtain,
	"lock":       TypeLock,
	"shutter":    TypeShutter,
	"hub":        TypeHub,
}

// String returns the type name, or "type_<n>" for codes this client does not know.
func (t TypeCode) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type_%d", int(t))
}

// Capability maps a type code to the capability it implies.
func (t TypeCode) Capability() Capability {
	switch t {
	case TypeSocket, TypeSwitch, TypeLight:
		return CapabilitySwitchable
	default:
		return CapabilityUnknown
	}
}

// SwitchState holds the fields of a switchable device.
type SwitchState struct {
	On bool `json:"on"`
}

// Snapshot is a point-in-time copy of one registry entry. It shares no
// memory with the registry.
type Snapshot struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	Name       string       `json:"name"`
	TypeCode   TypeCode     `json:"type"`
	TypeName   string       `json:"type_name"`
	Capability Capability   `json:"capability,omitempty"`
	Online     bool         `json:"online"`
	Switch     *SwitchState `json:"switch,omitempty"`

	// Raw is the last protocol payload applied to the entry.
	Raw json.RawMessage `json:"raw,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsSwitchable reports whether the entry carries switch state.
func (s Snapshot) IsSwitchable() bool {
	return s.Switch != nil
}

// IsOn reports the power state. Non-switchable entries are never on.
func (s Snapshot) IsOn() bool {
	return s.Switch != nil && s.Switch.On
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Switch != nil {
		sw := *s.Switch
		out.Switch = &sw
	}
	if s.Raw != nil {
		out.Raw = append(json.RawMessage(nil), s.Raw...)
	}
	return out
}

// Device is the registry's handle for one device or hub. The registry
// returns the same handle for an identifier for as long as the entry
// exists, so callers may hold on to it across updates.
type Device struct {
	mu    sync.RWMutex
	state Snapshot
}

// ID returns the identifier. It never changes.
func (d *Device) ID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.ID
}

// Kind returns whether this is a device or a hub.
func (d *Device) Kind() Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.Kind
}

// Name returns the current display name.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.Name
}

// IsOn returns the current power state.
func (d *Device) IsOn() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.IsOn()
}

// IsSwitchable reports whether the device currently accepts on/off commands.
func (d *Device) IsSwitchable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.IsSwitchable()
}

// Snapshot returns a consistent copy of every field.
func (d *Device) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.clone()
}

// patch is a parsed field group from one inbound message. Nil fields were
// absent from the payload and leave the entry unchanged.
type patch struct {
	name     *string
	typeCode *TypeCode
	typeName *string
	online   *bool
	on       *bool
	raw      json.RawMessage
}

// parsePatch interprets a protocol field map. It fails without side
// effects so a bad message never leaves an entry half-updated.
func parsePatch(fields map[string]any, raw []byte) (patch, error) {
	var p patch
	if raw != nil {
		p.raw = append(json.RawMessage(nil), raw...)
	}

	if v, ok := fields["name"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return patch{}, fmt.Errorf("%w: name is %T", ErrInvalidPayload, v)
		}
		p.name = &s
	}

	if v, ok := fields["type"]; ok && v != nil {
		code, name, err := parseType(v)
		if err != nil {
			return patch{}, err
		}
		p.typeCode = &code
		p.typeName = &name
	}

	if v, ok := fields["online"]; ok && v != nil {
		b, err := parseBool(v)
		if err != nil {
			return patch{}, fmt.Errorf("online: %w", err)
		}
		p.online = &b
	}

	for _, key := range []string{"on", "power"} {
		if v, ok := fields[key]; ok && v != nil {
			b, err := parseBool(v)
			if err != nil {
				return patch{}, fmt.Errorf("%s: %w", key, err)
			}
			p.on = &b
			break
		}
	}

	return p, nil
}

func parseType(v any) (TypeCode, string, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, "", fmt.Errorf("%w: type %q", ErrInvalidPayload, t.String())
		}
		code := TypeCode(n)
		return code, code.String(), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, "", fmt.Errorf("%w: type %v is not an integer", ErrInvalidPayload, t)
		}
		code := TypeCode(int(t))
		return code, code.String(), nil
	case int:
		code := TypeCode(t)
		return code, code.String(), nil
	case string:
		name := strings.ToLower(strings.TrimSpace(t))
		if code, ok := typeAliases[name]; ok {
			return code, code.String(), nil
		}
		return TypeUnknown, name, nil
	default:
		return 0, "", fmt.Errorf("%w: type is %T", ErrInvalidPayload, v)
	}
}

func parseBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case json.Number:
		return b.String() != "0", nil
	case float64:
		return b != 0, nil
	case int:
		return b != 0, nil
	case string:
		switch strings.ToLower(b) {
		case "1", "true", "on":
			return true, nil
		case "0", "false", "off":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %v is not a boolean", ErrInvalidPayload, v)
}

// apply mutates s with p. Capability and switch state follow the type code;
// hubs never carry switch state.
func (p patch) apply(s *Snapshot, now time.Time) {
	if p.name != nil {
		s.Name = *p.name
	}
	if p.typeCode != nil {
		s.TypeCode = *p.typeCode
		s.TypeName = *p.typeName
	}
	if p.online != nil {
		s.Online = *p.online
	}
	if p.raw != nil {
		s.Raw = p.raw
	}

	if s.Kind == KindHub {
		s.Capability = CapabilityNone
		s.Switch = nil
	} else {
		s.Capability = s.TypeCode.Capability()
		if s.Capability == CapabilitySwitchable {
			if s.Switch == nil {
				s.Switch = &SwitchState{}
			}
			if p.on != nil {
				s.Switch.On = *p.on
			}
		} else {
			s.Switch = nil
		}
	}

	s.UpdatedAt = now
}
