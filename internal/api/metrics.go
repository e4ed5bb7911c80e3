package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-ipmi/internal/process"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	IPMIBridge    IPMIMetrics     `json:"ipmi_bridge"`
	BridgeProcess *process.Stats  `json:"bridge_process,omitempty"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedMessages  uint64 `json:"dropped_messages"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// IPMIMetrics contains poll and command counters of the IPMI bridge.
type IPMIMetrics struct {
	Status          string `json:"status"`
	DevicesManaged  int    `json:"devices_managed"`
	DevicesOnline   int    `json:"devices_online"`
	PollsTotal      uint64 `json:"polls_total"`
	PollFailures    uint64 `json:"poll_failures"`
	CommandsSent    uint64 `json:"commands_sent"`
	CommandFailures uint64 `json:"command_failures"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total    int            `json:"total"`
	ByHealth map[string]int `json:"by_health"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Build metrics response
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: s.hubMetrics(),
	}

	bm := s.bridge.GetMetrics()
	metrics.MQTT = MQTTMetrics{Connected: bm.MQTTConnected}
	metrics.IPMIBridge = IPMIMetrics{
		Status:          bm.Status,
		DevicesManaged:  bm.DevicesManaged,
		DevicesOnline:   bm.DevicesOnline,
		PollsTotal:      bm.PollsTotal,
		PollFailures:    bm.PollFailures,
		CommandsSent:    bm.CommandsSent,
		CommandFailures: bm.CommandFailures,
	}

	if s.process != nil {
		ps := s.process.Stats()
		metrics.BridgeProcess = &ps
	}

	// Device registry stats
	regStats := s.registry.GetStats()
	metrics.Devices = DeviceMetrics{
		Total:    regStats.TotalDevices,
		ByHealth: make(map[string]int),
	}
	for health, count := range regStats.ByHealthStatus {
		metrics.Devices.ByHealth[string(health)] = count
	}

	// Database stats (if available)
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) hubMetrics() WSMetrics {
	if s.hub == nil {
		return WSMetrics{}
	}
	return WSMetrics{
		ConnectedClients: s.hub.ClientCount(),
		DroppedMessages:  s.hub.Dropped(),
	}
}
