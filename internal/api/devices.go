package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	ipmibridge "github.com/nerrad567/gray-logic-ipmi/internal/bridges/ipmi"
	"github.com/nerrad567/gray-logic-ipmi/internal/device"
	"github.com/nerrad567/gray-logic-ipmi/internal/ipmi"
)

// maxQueryParamLen limits path and query parameter length.
const maxQueryParamLen = 100

// deviceResponse is a configured device merged with its registry record.
type deviceResponse struct {
	ipmibridge.DeviceStatus

	Configured      bool                `json:"configured"`
	Manufacturer    string              `json:"manufacturer,omitempty"`
	Model           string              `json:"model,omitempty"`
	FirmwareVersion string              `json:"firmware_version,omitempty"`
	HealthStatus    device.HealthStatus `json:"health_status,omitempty"`
	HealthLastSeen  *time.Time          `json:"health_last_seen,omitempty"`
	StateUpdatedAt  *time.Time          `json:"state_updated_at,omitempty"`
}

// stateResponse is the last snapshot of a device, decorated for display.
type stateResponse struct {
	Key         string            `json:"key"`
	DeviceID    string            `json:"device_id,omitempty"`
	Online      bool              `json:"online"`
	PowerOn     bool              `json:"power_on"`
	PowerStatus string            `json:"power_status"`
	Device      map[string]string `json:"device"`
	Sensors     []ipmi.Sensor     `json:"sensors"`
	Alias       string            `json:"alias,omitempty"`
	FetchedAt   time.Time         `json:"fetched_at"`
}

func (s *Server) deviceResponse(ctx context.Context, st ipmibridge.DeviceStatus) deviceResponse {
	resp := deviceResponse{DeviceStatus: st, Configured: true}
	if st.DeviceID == "" {
		return resp
	}
	if d, err := s.registry.GetDevice(ctx, st.DeviceID); err == nil {
		resp.merge(d)
	}
	return resp
}

func (r *deviceResponse) merge(d *device.Device) {
	r.Manufacturer = d.Manufacturer
	r.Model = d.Model
	r.FirmwareVersion = d.FirmwareVersion
	r.HealthStatus = d.HealthStatus
	r.HealthLastSeen = d.HealthLastSeen
	r.StateUpdatedAt = d.StateUpdatedAt
}

func newStateResponse(st ipmibridge.DeviceStatus, snap ipmi.Snapshot) stateResponse {
	return stateResponse{
		Key:         st.Key,
		DeviceID:    st.DeviceID,
		Online:      st.Online,
		PowerOn:     snap.PowerOn,
		PowerStatus: snap.PowerStatus(),
		Device:      snap.Device,
		Sensors:     snap.SensorList(),
		Alias:       snap.Alias,
		FetchedAt:   snap.FetchedAt,
	}
}

// deviceIDParam returns the {id} path parameter, writing a 400 when it is
// empty or too long.
func deviceIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return "", false
	}
	return id, true
}

// handleListDevices returns every configured device in config order.
//
// Query parameters:
//   - online: "true" or "false" to filter by the outcome of the last poll
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var onlineFilter *bool
	switch r.URL.Query().Get("online") {
	case "":
	case "true":
		v := true
		onlineFilter = &v
	case "false":
		v := false
		onlineFilter = &v
	default:
		writeBadRequest(w, "online must be true or false")
		return
	}

	statuses := s.bridge.Devices()
	devices := make([]deviceResponse, 0, len(statuses))
	for _, st := range statuses {
		if onlineFilter != nil && st.Online != *onlineFilter {
			continue
		}
		devices = append(devices, s.deviceResponse(ctx, st))
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleDeviceStats returns registry counts by health status.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleGetDevice returns one device. Devices that were registered by an
// earlier run but are no longer configured are served from the registry.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	st, err := s.bridge.Device(id)
	if err == nil {
		writeJSON(w, http.StatusOK, s.deviceResponse(ctx, st))
		return
	}
	if !errors.Is(err, ipmibridge.ErrDeviceNotFound) {
		writeBridgeError(w, err)
		return
	}

	d, err := s.registry.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	resp := deviceResponse{DeviceStatus: ipmibridge.DeviceStatus{
		DeviceID: d.ID,
		Name:     d.Name,
		Address:  d.Host,
	}}
	resp.merge(d)
	writeJSON(w, http.StatusOK, resp)
}

// handleGetDeviceState returns the last successful snapshot of a device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	st, err := s.bridge.Device(id)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	snap, polled, err := s.bridge.Snapshot(id)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	if !polled {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "device has not answered a poll yet")
		return
	}

	writeJSON(w, http.StatusOK, newStateResponse(st, snap))
}

// handleGetEntities returns the entity descriptors of a device.
func (s *Server) handleGetEntities(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	entities, err := s.bridge.Entities(id)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
}

// handleListActions returns the command names a device accepts.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	if _, err := s.bridge.Device(id); err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"actions": s.bridge.Actions()})
}

// handleDeviceAction sends a power command. A 202 means the BMC bridge
// accepted it; the new state follows on the next poll.
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	action := chi.URLParam(r, "action")
	if action == "" || len(action) > maxQueryParamLen {
		writeBadRequest(w, "invalid action")
		return
	}

	requestID, _ := r.Context().Value(ctxKeyRequestID).(string)
	err := s.bridge.Dispatch(ipmibridge.WithCommandID(r.Context(), requestID), id, action)

	event := map[string]any{
		"device_id": id,
		"action":    action,
		"status":    "accepted",
	}
	if err != nil {
		event["status"] = "failed"
		event["error"] = err.Error()
	}
	if s.hub != nil && !errors.Is(err, ipmibridge.ErrDeviceNotFound) {
		s.hub.BroadcastDevice(ChannelDeviceAction, id, event)
	}

	if err != nil {
		s.logger.Warn("device action failed", "device_id", id, "action", action, "error", err)
		writeBridgeError(w, err)
		return
	}

	s.logger.Info("device action accepted", "device_id", id, "action", action)
	writeJSON(w, http.StatusAccepted, event)
}

// handleRefreshDevice polls a device now and returns the fresh state.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	snap, err := s.bridge.Refresh(r.Context(), id)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	st, err := s.bridge.Device(id)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newStateResponse(st, snap))
}
