// Package event provides the in-process publish/subscribe bus that turns
// session activity into named notifications.
//
// Delivery is synchronous: Publish calls every handler registered for the
// name, in registration order, before it returns. Handler errors and panics
// are logged and never stop delivery to later handlers.
package event

import (
	"time"
)

// Name identifies an event type.
type Name string

// Event names published by the session.
const (
	NewDeviceAdded       Name = "new_device_added"
	NewHubAdded          Name = "new_hub_added"
	DeviceUpdated        Name = "device_updated"
	HubUpdated           Name = "hub_updated"
	DeviceRemoved        Name = "device_removed"
	HubRemoved           Name = "hub_removed"
	DeviceListPopulated  Name = "device_list_populated"
	SessionAuthenticated Name = "session_authenticated"
	SessionError         Name = "session_error"
	SessionStateChanged  Name = "session_state_changed"
	ConnectionFailed     Name = "connection_failed"
	SessionStopped       Name = "session_stopped"
)

// Names lists every event the session can publish, in a stable order.
var Names = []Name{
	NewDeviceAdded, NewHubAdded, DeviceUpdated, HubUpdated, DeviceRemoved, HubRemoved,
	DeviceListPopulated, SessionAuthenticated, SessionError, SessionStateChanged,
	ConnectionFailed, SessionStopped,
}

// Event is one notification.
//
// Payload depends on Name:
//   - device and hub events: device.Snapshot
//   - SessionAuthenticated: the username string
//   - SessionError: ErrorInfo
//   - SessionStateChanged: StateChange
//   - ConnectionFailed: Failure
//   - DeviceListPopulated: ListSummary
//   - SessionStopped: nil
type Event struct {
	Name    Name
	Payload any
	At      time.Time
}

// Handler receives events. A returned error is logged by the bus.
type Handler func(Event) error

// ErrorInfo describes a condition the session observed but did not raise,
// such as a server-pushed error notice.
type ErrorInfo struct {
	Type    string `json:"type"`
	Class   string `json:"class"`
	Message string `json:"message"`
}

// StateChange is the payload of SessionStateChanged.
type StateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Failure is the payload of ConnectionFailed: the session gave up and will
// not reconnect on its own.
type Failure struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// Failure reasons.
const (
	ReasonAuthentication   = "authentication_failed"
	ReasonRetriesExhausted = "retries_exhausted"
)

// ListSummary is the payload of DeviceListPopulated.
type ListSummary struct {
	Devices int `json:"devices"`
	Hubs    int `json:"hubs"`
}
