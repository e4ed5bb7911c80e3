package ipmi

import (
	"sort"
	"strconv"
	"strings"
)

// Sensor categories reported by the bridge.
const (
	CategoryTemperature = "temperature"
	CategoryVoltage     = "voltage"
	CategoryFan         = "fan"
	CategoryPower       = "power"
)

// StateClassMeasurement is the state class of every sensor reading.
const StateClassMeasurement = "measurement"

type categorySpec struct {
	unit        string
	deviceClass string
	icon        string
}

// categories holds the presentation of each known category. Sensors in
// other categories are ignored.
var categories = map[string]categorySpec{
	CategoryTemperature: {unit: "°C", deviceClass: "temperature"},
	CategoryVoltage:     {unit: "V", deviceClass: "voltage"},
	CategoryFan:         {unit: "RPM", icon: "mdi:fan"},
	CategoryPower:       {unit: "W", deviceClass: "power"},
}

// categoryOrder fixes the listing order of SensorList.
var categoryOrder = []string{CategoryTemperature, CategoryVoltage, CategoryFan, CategoryPower}

// Sensor is one reading in a snapshot, decorated for presentation.
type Sensor struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	Unit             string `json:"unit"`
	DeviceClass      string `json:"device_class,omitempty"`
	Icon             string `json:"icon,omitempty"`
	StateClass       string `json:"state_class"`
	Reading          string `json:"reading"`
	Available        bool   `json:"available"`
	EnabledByDefault bool   `json:"enabled_by_default"`
}

// Value parses the reading as a number.
func (s Sensor) Value() (float64, bool) {
	if s.Reading == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s.Reading), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SensorList returns the sensors of the known categories, ordered by
// category and then sensor id.
//
// A sensor whose reading is missing or empty is listed but not available
// and not enabled by default.
func (s Snapshot) SensorList() []Sensor {
	var out []Sensor
	for _, cat := range categoryOrder {
		names, ok := s.Sensors[cat]
		if !ok {
			continue
		}
		spec := categories[cat]

		ids := make([]string, 0, len(names))
		for id := range names {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			reading, present := s.States[id]
			out = append(out, Sensor{
				ID:               id,
				Name:             names[id],
				Category:         cat,
				Unit:             spec.unit,
				DeviceClass:      spec.deviceClass,
				Icon:             spec.icon,
				StateClass:       StateClassMeasurement,
				Reading:          reading,
				Available:        present && reading != "",
				EnabledByDefault: reading != "",
			})
		}
	}
	return out
}

// PowerStatus is "ON" or "OFF" from PowerOn.
func (s Snapshot) PowerStatus() string {
	if s.PowerOn {
		return "ON"
	}
	return "OFF"
}
