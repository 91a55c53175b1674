package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "homismart"

// Topics builds the bridge's MQTT topics under one prefix.
//
//	topics := mqtt.NewTopics("homismart")
//	topics.DeviceState("d1") // homismart/device/d1/state
type Topics struct {
	prefix string
}

// NewTopics returns builders for prefix. Surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of every topic.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status is the retained availability topic, also used for the last will.
//
// Example: homismart/status
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// Session carries the remote session state.
//
// Example: homismart/session
func (t Topics) Session() string {
	return t.prefix + "/session"
}

// DeviceState is the retained state topic for a device.
//
// Example: homismart/device/d1/state
func (t Topics) DeviceState(id string) string {
	return fmt.Sprintf("%s/device/%s/state", t.prefix, id)
}

// HubState is the retained state topic for a hub.
//
// Example: homismart/hub/h1/state
func (t Topics) HubState(id string) string {
	return fmt.Sprintf("%s/hub/%s/state", t.prefix, id)
}

// DeviceSet is the command topic for a device.
//
// Example: homismart/device/d1/set
func (t Topics) DeviceSet(id string) string {
	return fmt.Sprintf("%s/device/%s/set", t.prefix, id)
}

// AllDeviceSets matches every device command topic.
//
// Example: homismart/device/+/set
func (t Topics) AllDeviceSets() string {
	return t.prefix + "/device/+/set"
}

// ParseDeviceSet extracts the device identifier from a command topic.
func (t Topics) ParseDeviceSet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/device/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
