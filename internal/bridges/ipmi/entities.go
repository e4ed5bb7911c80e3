package ipmi

import (
	core "github.com/nerrad567/gray-logic-ipmi/internal/ipmi"
)

// Entity kinds.
const (
	EntitySensor = "sensor"
	EntitySwitch = "switch"
	EntityStatus = "status"
)

// Fixed entity keys.
const (
	statusKey  = "status"
	chassisKey = "chassis"

	chassisName = "Power on/Soft shutdown"
)

// Chassis switch commands. They are accepted on the command topic next to
// the power command names.
const (
	SwitchOn  = "on"
	SwitchOff = "off"
)

// Entity describes one value or control of a device for discovery and the
// API.
type Entity struct {
	UniqueID         string `json:"unique_id"`
	Kind             string `json:"kind"`
	Key              string `json:"key"`
	Name             string `json:"name"`
	Category         string `json:"category,omitempty"`
	Unit             string `json:"unit,omitempty"`
	DeviceClass      string `json:"device_class,omitempty"`
	Icon             string `json:"icon,omitempty"`
	StateClass       string `json:"state_class,omitempty"`
	State            string `json:"state"`
	Available        bool   `json:"available"`
	EnabledByDefault bool   `json:"enabled_by_default"`
}

// EntityID joins a device identity and an entity key.
func EntityID(identity, key string) string {
	return identity + core.IdentitySeparator + key
}

// BuildEntities lists the entities of a device: one per sensor, the power
// status and the chassis switch.
func BuildEntities(identity string, s core.Snapshot) []Entity {
	sensors := s.SensorList()
	out := make([]Entity, 0, len(sensors)+2)

	for _, sn := range sensors {
		out = append(out, Entity{
			UniqueID:         EntityID(identity, sn.ID),
			Kind:             EntitySensor,
			Key:              sn.ID,
			Name:             sn.Name,
			Category:         sn.Category,
			Unit:             sn.Unit,
			DeviceClass:      sn.DeviceClass,
			Icon:             sn.Icon,
			StateClass:       sn.StateClass,
			State:            sn.Reading,
			Available:        sn.Available,
			EnabledByDefault: sn.EnabledByDefault,
		})
	}

	status := s.PowerStatus()
	out = append(out,
		Entity{
			UniqueID:         EntityID(identity, statusKey),
			Kind:             EntityStatus,
			Key:              statusKey,
			Name:             "Status",
			State:            status,
			Available:        true,
			EnabledByDefault: true,
		},
		Entity{
			UniqueID:         EntityID(identity, chassisKey),
			Kind:             EntitySwitch,
			Key:              chassisKey,
			Name:             chassisName,
			State:            status,
			Available:        true,
			EnabledByDefault: true,
		},
	)
	return out
}

// ResolveCommand maps a command name to a power command. The chassis
// switch maps "on" to power_on and "off" to soft_shutdown.
func ResolveCommand(name string) (core.Command, error) {
	switch name {
	case SwitchOn:
		return core.PowerOn, nil
	case SwitchOff:
		return core.SoftShutdown, nil
	}
	return core.ParseCommand(name)
}

// snapshotState is the state published and persisted for a snapshot.
func snapshotState(s core.Snapshot) map[string]any {
	states := make(map[string]any, len(s.States))
	for k, v := range s.States {
		states[k] = v
	}
	return map[string]any{
		"power_on":     s.PowerOn,
		"status":       s.PowerStatus(),
		"states":       states,
		"sensor_count": len(s.SensorList()),
	}
}
