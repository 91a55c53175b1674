package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound payloads (1MB). Device state documents are
// a few hundred bytes.
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "homismart/device/d1/state")
//   - payload: The message body (JSON for state, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker keeps the message for new subscribers
//
// Retained Messages:
//   - Use for device, hub and session state so dashboards start with values
//   - Don't use for commands
//
// Returns:
//   - error: nil on success, or wrapped ErrPublishFailed/ErrNotConnected
//
// Example:
//
//	topic := client.Topics().DeviceState("d1")
//	err := client.Publish(topic, []byte(`{"on":true,"online":true}`), 1, true)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishRetained publishes a retained message with the configured QoS.
//
// Use for state updates where new subscribers should receive the current state.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), true)
}

// ClearRetained removes the retained message on topic by publishing an
// empty retained payload.
//
// Equivalent to PublishRetained(topic, nil).
func (c *Client) ClearRetained(topic string) error {
	return c.Publish(topic, nil, c.QoS(), true)
}
