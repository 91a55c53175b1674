package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Code is the four digit prefix that identifies a frame.
type Code string

// Frame codes.
const (
	CodeLogin        Code = "0002"
	CodeLoginResult  Code = "0003"
	CodeListDevices  Code = "0004"
	CodeDeviceList   Code = "0005"
	CodeSetDevice    Code = "0006"
	CodeDeviceState  Code = "0009"
	CodeHubState     Code = "0011"
	CodeEntryRemoved Code = "0013"
	CodeServerError  Code = "9999"
)

// codeLen is the length of the frame prefix.
const codeLen = 4

// Kind discriminates decoded inbound frames.
type Kind int

// Inbound frame kinds.
const (
	KindUnknown Kind = iota
	KindAuthResult
	KindDeviceList
	KindDeviceState
	KindHubState
	KindRemoved
	KindError
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindAuthResult:  "auth_result",
	KindDeviceList:  "device_list",
	KindDeviceState: "device_state",
	KindHubState:    "hub_state",
	KindRemoved:     "removed",
	KindError:       "error",
}

// String returns the kind name used in logs.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

var inboundKinds = map[Code]Kind{
	CodeLoginResult:  KindAuthResult,
	CodeDeviceList:   KindDeviceList,
	CodeDeviceState:  KindDeviceState,
	CodeHubState:     KindHubState,
	CodeEntryRemoved: KindRemoved,
	CodeServerError:  KindError,
}

// Message is one decoded inbound frame.
type Message struct {
	Kind Kind
	Code Code

	// ID is the device or hub identifier. Empty for auth, list and error frames.
	ID string

	// Fields is the decoded JSON object. Numbers are json.Number.
	Fields map[string]any

	// Raw is the undecoded JSON body, kept for diagnostics.
	Raw json.RawMessage

	// Items holds the entries of a KindDeviceList frame, each decoded as a
	// KindDeviceState or KindHubState message.
	Items []Message
}

// Decode parses one inbound frame.
func Decode(frame []byte) (Message, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) < codeLen {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}

	code := Code(frame[:codeLen])
	kind, ok := inboundKinds[code]
	if !ok {
		return Message{}, fmt.Errorf("%w: unknown code %q", ErrMalformedFrame, code)
	}

	body := frame[codeLen:]
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	fields, err := decodeObject(body)
	if err != nil {
		return Message{}, fmt.Errorf("%w: code %s: %v", ErrMalformedFrame, code, err)
	}

	msg := Message{
		Kind:   kind,
		Code:   code,
		Fields: fields,
		Raw:    append(json.RawMessage(nil), body...),
	}

	switch kind {
	case KindDeviceState, KindHubState, KindRemoved:
		id, err := identifier(fields)
		if err != nil {
			return Message{}, fmt.Errorf("code %s: %w", code, err)
		}
		msg.ID = id
	case KindDeviceList:
		items, err := decodeList(fields)
		if err != nil {
			return Message{}, fmt.Errorf("%w: code %s: %v", ErrMalformedFrame, code, err)
		}
		msg.Items = items
	}

	return msg, nil
}

// decodeList splits a device list body into per-entry messages. Entries
// without an identifier are dropped; they cannot be addressed anyway.
func decodeList(fields map[string]any) ([]Message, error) {
	var items []Message
	for key, kind := range map[string]Kind{"devices": KindDeviceState, "hubs": KindHubState} {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		entries, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%s is not a list", key)
		}
		for _, e := range entries {
			obj, ok := e.(map[string]any)
			if !ok {
				continue
			}
			id, err := identifier(obj)
			if err != nil {
				continue
			}
			body, err := json.Marshal(obj)
			if err != nil {
				return nil, err
			}
			items = append(items, Message{
				Kind:   kind,
				Code:   codeFor(kind),
				ID:     id,
				Fields: obj,
				Raw:    body,
			})
		}
	}
	// Hubs first so devices referencing them arrive after their controller.
	sortItems(items)
	return items, nil
}

func codeFor(kind Kind) Code {
	if kind == KindHubState {
		return CodeHubState
	}
	return CodeDeviceState
}

func sortItems(items []Message) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Kind != items[j].Kind {
			return items[i].Kind == KindHubState
		}
		return items[i].ID < items[j].ID
	})
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("body is not an object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after object")
	}
	return fields, nil
}

// identifier extracts the "id" field, accepting strings and numbers.
func identifier(fields map[string]any) (string, error) {
	switch v := fields["id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", ErrMissingID
}

// Encode builds an outbound frame from a code and a JSON-serialisable body.
func Encode(code Code, body any) ([]byte, error) {
	if len(code) != codeLen {
		return nil, fmt.Errorf("protocol: invalid code %q", code)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding %s: %w", code, err)
	}
	frame := make([]byte, 0, codeLen+len(payload))
	frame = append(frame, code...)
	return append(frame, payload...), nil
}

// LoginRequest is the body of a login frame.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// EncodeLogin builds the login frame.
func EncodeLogin(username, password string) ([]byte, error) {
	return Encode(CodeLogin, LoginRequest{Username: username, Password: password})
}

// EncodeListDevices builds the request for the full device and hub list.
func EncodeListDevices() ([]byte, error) {
	return Encode(CodeListDevices, struct{}{})
}

// CommandRequest is the body of a device command frame.
type CommandRequest struct {
	ID      string         `json:"id"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// EncodeCommand builds a device command frame.
func EncodeCommand(id, command string, params map[string]any) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("protocol: encoding command: %w", ErrMissingID)
	}
	return Encode(CodeSetDevice, CommandRequest{ID: id, Command: command, Params: params})
}

// AuthResult is the interpretation of a KindAuthResult message.
type AuthResult struct {
	OK       bool
	Username string
	Message  string
}

// AuthResult interprets the message as a login reply. It is only meaningful
// for KindAuthResult messages.
func (m Message) AuthResult() AuthResult {
	ok, _ := m.Fields["result"].(bool)
	return AuthResult{
		OK:       ok,
		Username: m.Text("username"),
		Message:  m.Text("message"),
	}
}

// ServerError is the interpretation of a KindError message.
type ServerError struct {
	Code    string
	Message string
}

// ServerError interprets the message as a server error notice.
func (m Message) ServerError() ServerError {
	return ServerError{
		Code:    m.Text("code"),
		Message: m.Text("message"),
	}
}

// Text returns a field rendered as a string. Numbers are formatted,
// anything else yields "".
func (m Message) Text(key string) string {
	switch v := m.Fields[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
