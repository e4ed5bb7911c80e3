package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-ipmi/internal/audit"
)

// handleListAudit returns paginated command audit entries, newest first.
//
// Query parameters:
//   - device: configured id or derived identity
//   - command, source (api, mqtt), outcome (accepted, failed)
//   - since: RFC3339 timestamp
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "command audit not configured")
		return
	}

	q := r.URL.Query()
	for _, key := range []string{"device", "command", "source", "outcome"} {
		if len(q.Get(key)) > maxQueryParamLen {
			writeBadRequest(w, key+" parameter too long")
			return
		}
	}

	filter := audit.Filter{
		DeviceKey: q.Get("device"),
		Command:   q.Get("command"),
		Source:    q.Get("source"),
		Outcome:   q.Get("outcome"),
	}
	if filter.DeviceKey != "" {
		if st, err := s.bridge.Device(filter.DeviceKey); err == nil {
			filter.DeviceKey = st.Key
		}
	}

	since, err := parseSinceParam(q.Get("since"))
	if err != nil {
		writeBadRequest(w, "since must be an RFC3339 timestamp")
		return
	}
	filter.Since = since

	if filter.Limit, err = parseNonNegative(q.Get("limit")); err != nil {
		writeBadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = parseNonNegative(q.Get("offset")); err != nil {
		writeBadRequest(w, "invalid offset")
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command audit", "error", err)
		writeInternalError(w, "failed to list command audit")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseNonNegative parses an optional integer query value; "" is 0.
func parseNonNegative(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
