package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-ipmi/internal/process"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/state", s.handleGetDeviceState)
				r.Get("/history", s.handleGetStateHistory)
				r.Get("/entities", s.handleGetEntities)
				r.Get("/actions", s.handleListActions)
				r.Post("/actions/{action}", s.handleDeviceAction)
				r.Post("/refresh", s.handleRefreshDevice)
			})
		})

		r.Get("/audit", s.handleListAudit)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status. It reports "degraded"
// when any managed device missed its last poll or a supervised bridge
// process is not running.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.bridge.GetMetrics()

	status := "ok"
	if m.DevicesOnline < m.DevicesManaged {
		status = "degraded"
	}

	body := map[string]any{
		"version":         s.version,
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"mqtt_connected":  m.MQTTConnected,
		"devices_managed": m.DevicesManaged,
		"devices_online":  m.DevicesOnline,
	}
	if s.process != nil {
		ps := s.process.Stats()
		body["bridge_process"] = ps.Status
		if ps.Status != process.StatusRunning {
			status = "degraded"
		}
	}
	body["status"] = status

	writeJSON(w, http.StatusOK, body)
}
