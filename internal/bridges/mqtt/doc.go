// Package mqtt mirrors a Homismart session onto a local MQTT broker.
//
// The bridge listens to the session's event bus and keeps one retained
// JSON state message per device and hub. Removing an entry clears its
// retained message. Session state changes go to the session topic, and
// commands arriving on {prefix}/device/{id}/set are turned into session
// commands:
//
//	mosquitto_pub -t homismart/device/d1/set -m ON
//	mosquitto_pub -t homismart/device/d1/set -m '{"on":false}'
//
// Publishing happens on a worker goroutine so a slow broker never stalls
// the session's frame processing.
package mqtt
