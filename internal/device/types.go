package device

import "time"

// Device is one IPMI-managed machine as known to the registry.
// This matches migrations/20260301_090000_ipmi_devices.up.sql.
type Device struct {
	// ID is the identity derived from the BMC status, or ipmi:<uuid>.
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`

	// Connection (never the credentials).
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Alias string `json:"alias,omitempty"`

	Manufacturer    string `json:"manufacturer,omitempty"`
	Model           string `json:"model,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`

	// State is the last published power and sensor snapshot.
	State          State      `json:"state"`
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	HealthStatus   HealthStatus `json:"health_status"`
	HealthLastSeen *time.Time   `json:"health_last_seen,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns a copy whose State map is independent of d's.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.State = deepCopyMap(d.State)
	return &cpy
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case map[string]string:
		cpy := make(map[string]string, len(val))
		for k, s := range val {
			cpy[k] = s
		}
		return cpy
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// State holds a device state snapshot as a JSON map.
//
// Example:
//
//	{"power_on": true, "states": {"chassis_intrusion": "inactive"},
//	 "sensors": {"temperature": {"cpu_temp": "42"}}}
type State map[string]any

// HealthStatus is the device's reachability as seen by the poller.
type HealthStatus string

// Health status constants.
const (
	HealthStatusOnline  HealthStatus = "online"
	HealthStatusOffline HealthStatus = "offline"
	HealthStatusUnknown HealthStatus = "unknown"
)

// AllHealthStatuses returns all valid health status values.
func AllHealthStatuses() []HealthStatus {
	return []HealthStatus{HealthStatusOnline, HealthStatusOffline, HealthStatusUnknown}
}
