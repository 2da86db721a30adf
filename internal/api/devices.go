package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/wirehome/internal/device"
)

// deviceResponse is the wire form of a registered device.
type deviceResponse struct {
	ID            string              `json:"id"`
	Segment       string              `json:"segment"`
	Address       string              `json:"address"`
	Board         string              `json:"board"`
	Tags          []string            `json:"tags,omitempty"`
	Capabilities  []device.Capability `json:"capabilities"`
	Channels      []device.Channel    `json:"channels"`
	Health        device.HealthStatus `json:"health"`
	HealthChanged time.Time           `json:"health_changed,omitzero"`
}

func toDeviceResponse(d *device.Device) deviceResponse {
	return deviceResponse{
		ID:            d.ID,
		Segment:       d.Segment,
		Address:       d.AddressString(),
		Board:         d.Board.String(),
		Tags:          d.Tags,
		Capabilities:  d.Capabilities(),
		Channels:      d.Channels,
		Health:        d.Health,
		HealthChanged: d.HealthChanged,
	}
}

// handleListDevices returns every registered device.
//
// Query parameters:
//   - segment: only devices on this bus segment
//   - health: only devices with this health status
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	segment := r.URL.Query().Get("segment")
	health := device.HealthStatus(r.URL.Query().Get("health"))

	devs := s.devices.Devices()
	out := make([]deviceResponse, 0, len(devs))
	for i := range devs {
		if segment != "" && devs[i].Segment != segment {
			continue
		}
		if health != "" && devs[i].Health != health {
			continue
		}
		out = append(out, toDeviceResponse(&devs[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, err := s.devices.Device(id)
	if errors.Is(err, device.ErrDeviceNotFound) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("device lookup failed", "device_id", id, "error", err)
		writeInternalError(w, "device lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(dev))
}
