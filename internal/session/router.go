package session

import (
	"errors"

	"github.com/nerrad567/homismart-go/internal/device"
	"github.com/nerrad567/homismart-go/internal/event"
	"github.com/nerrad567/homismart-go/internal/protocol"
)

// router applies inbound frames to the registry. Frames that cannot be
// decoded or applied are logged and skipped; they never end the session.
type router struct {
	registry *device.Registry
	bus      *event.Bus
	logger   Logger
	metrics  Metrics
}

func (r *router) route(raw []byte) {
	r.metrics.FrameReceived()

	msg, err := protocol.Decode(raw)
	if err != nil {
		r.metrics.FrameMalformed()
		r.logger.Warn("skipping malformed frame", "error", err, "size", len(raw))
		return
	}

	switch msg.Kind {
	case protocol.KindDeviceState:
		r.upsert(device.KindDevice, msg)

	case protocol.KindHubState:
		r.upsert(device.KindHub, msg)

	case protocol.KindDeviceList:
		for _, item := range msg.Items {
			kind := device.KindDevice
			if item.Kind == protocol.KindHubState {
				kind = device.KindHub
			}
			r.upsert(kind, item)
		}
		stats := r.registry.GetStats()
		r.logger.Info("device list received", "devices", stats.Devices, "hubs", stats.Hubs)
		r.bus.Publish(event.DeviceListPopulated, event.ListSummary{Devices: stats.Devices, Hubs: stats.Hubs})

	case protocol.KindRemoved:
		if err := r.registry.Remove(msg.ID); err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				r.logger.Debug("removal for unknown entry", "id", msg.ID)
				return
			}
			r.logger.Warn("removing entry", "id", msg.ID, "error", err)
		}

	case protocol.KindError:
		se := msg.ServerError()
		r.logger.Warn("server reported error", "code", se.Code, "message", se.Message)
		r.bus.Publish(event.SessionError, event.ErrorInfo{
			Type:    "server",
			Class:   se.Code,
			Message: se.Message,
		})

	case protocol.KindAuthResult:
		r.logger.Debug("ignoring login result outside handshake")

	default:
		r.logger.Debug("ignoring frame", "code", string(msg.Code))
	}
}

func (r *router) upsert(kind device.Kind, msg protocol.Message) {
	if _, err := r.registry.Upsert(kind, msg.ID, msg.Fields, msg.Raw); err != nil {
		r.metrics.FrameMalformed()
		r.logger.Warn("skipping invalid state update", "id", msg.ID, "kind", kind.String(), "error", err)
	}
}
