package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	ipmibridge "github.com/nerrad567/gray-logic-ipmi/internal/bridges/ipmi"
	"github.com/nerrad567/gray-logic-ipmi/internal/device"
)

const (
	defaultHistoryLimit   = 50
	maxHistoryLimit       = 200
	serviceUnavailableKey = "service_unavailable"
)

// handleGetStateHistory returns recorded state snapshots for a device,
// newest first.
//
// Query parameters:
//   - limit: 1..200, default 50
//   - since: RFC3339 timestamp; only newer entries are returned
func (s *Server) handleGetStateHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	since, err := parseSinceParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, serviceUnavailableKey, "state history unavailable")
		return
	}

	// History is keyed by derived identity; a configured key is translated.
	deviceID := id
	st, err := s.bridge.Device(id)
	switch {
	case err == nil:
		deviceID = st.DeviceID
	case errors.Is(err, ipmibridge.ErrDeviceNotFound):
		if _, err := s.registry.GetDevice(ctx, id); err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				writeNotFound(w, "device not found")
				return
			}
			writeInternalError(w, "failed to get device")
			return
		}
	default:
		writeBridgeError(w, err)
		return
	}

	entries := []device.StateHistoryEntry{}
	if deviceID != "" {
		entries, err = s.history.GetHistory(ctx, deviceID, limit)
		if err != nil {
			writeInternalError(w, "failed to load device history")
			return
		}
	}

	if !since.IsZero() {
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.CreatedAt.After(since) {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"history":   entries,
		"count":     len(entries),
	})
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

// parseSinceParam parses the since parameter as RFC3339/RFC3339Nano.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
