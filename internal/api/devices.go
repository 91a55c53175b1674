package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homismart-go/internal/device"
	"github.com/nerrad567/homismart-go/internal/session"
)

// commandToggle is accepted alongside the session's wire commands and
// resolved against the cached power state.
const commandToggle = "toggle"

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - capability: switchable or unknown
//   - online: true or false
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.session.Devices()

	if capStr := r.URL.Query().Get("capability"); capStr != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if string(d.Capability) == capStr {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	if onlineStr := r.URL.Query().Get("online"); onlineStr != "" {
		online, err := strconv.ParseBool(onlineStr)
		if err != nil {
			writeBadRequest(w, "online must be true or false")
			return
		}
		filtered := devices[:0]
		for _, d := range devices {
			if d.Online == online {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device or hub.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.session.Device(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

// handleListHubs returns all hubs.
func (s *Server) handleListHubs(w http.ResponseWriter, _ *http.Request) {
	hubs := s.session.Hubs()
	writeJSON(w, http.StatusOK, map[string]any{"hubs": hubs, "count": len(hubs)})
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Stats())
}

// handleDeviceCommand sends a command to a device. The response means the
// frame was written, not that the device acted on it.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	var err error
	if req.Command == commandToggle {
		err = s.session.Toggle(r.Context(), id)
	} else {
		err = s.session.SendCommand(r.Context(), id, req.Command, req.Params)
	}
	if err != nil {
		s.writeCommandError(w, id, req.Command, err)
		return
	}
	s.logger.Info("device command accepted", "device_id", id, "command", req.Command, "subject", subjectFrom(r.Context()))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": id,
		"command":   req.Command,
		"status":    "sent",
	})
}

func (s *Server) writeCommandError(w http.ResponseWriter, id, command string, err error) {
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotAuthenticated, "session is not authenticated")
	case errors.Is(err, session.ErrUnknownDevice), errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, session.ErrUnsupportedCommand):
		writeError(w, http.StatusBadRequest, ErrCodeUnsupported, err.Error())
	default:
		s.logger.Warn("device command failed", "device_id", id, "command", command, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeSendFailed, "failed to send command")
	}
}
