package ipmi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Keys of the bridge "device" object.
const (
	KeyManufacturerName    = "manufacturer_name"
	KeyProductName         = "product_name"
	KeyFirmwareRevision    = "firmware_revision"
	KeyProductManufacturer = "product_manufacturer"
	KeyProductPartNumber   = "product_part_number"
)

// Snapshot is the device state from one successful poll.
//
// A Snapshot is built once and never modified. Accessors that hand it out
// return a Clone so callers cannot alter the poller's copy.
type Snapshot struct {
	// Device holds FRU/identity fields (manufacturer_name, product_name,
	// firmware_revision, ...).
	Device map[string]string `json:"device"`

	// PowerOn is the chassis power state.
	PowerOn bool `json:"power_on"`

	// Sensors is the catalogue: category -> sensor id -> display name.
	Sensors map[string]map[string]string `json:"sensors"`

	// States maps sensor id -> reading. A key with an empty value means the
	// BMC reported the sensor but no reading.
	States map[string]string `json:"states"`

	// Alias is the configured alias of the connection that produced it.
	Alias string `json:"alias,omitempty"`

	// FetchedAt is when the poll completed (UTC).
	FetchedAt time.Time `json:"fetched_at"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Device = cloneStrings(s.Device)
	out.States = cloneStrings(s.States)
	if s.Sensors != nil {
		out.Sensors = make(map[string]map[string]string, len(s.Sensors))
		for cat, m := range s.Sensors {
			out.Sensors[cat] = cloneStrings(m)
		}
	}
	return out
}

// DeviceInfo is the registry-facing projection of Snapshot.Device.
type DeviceInfo struct {
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	SWVersion    string `json:"sw_version,omitempty"`
}

// Info projects the device fields onto manufacturer/model/firmware.
// Bridges differ in which FRU keys they fill, so both spellings are tried.
func (s Snapshot) Info() DeviceInfo {
	return DeviceInfo{
		Manufacturer: firstNonEmpty(s.Device[KeyManufacturerName], s.Device[KeyProductManufacturer]),
		Model:        firstNonEmpty(s.Device[KeyProductName], s.Device[KeyProductPartNumber]),
		SWVersion:    s.Device[KeyFirmwareRevision],
	}
}

// statusResponse is the JSON document returned by the bridge status call.
type statusResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Device  stringMap            `json:"device"`
	PowerOn bool                 `json:"power_on"`
	Sensors map[string]stringMap `json:"sensors"`
	States  stringMap            `json:"states"`
}

func (r statusResponse) snapshot(alias string, at time.Time) Snapshot {
	snap := Snapshot{
		Device:    map[string]string(r.Device),
		PowerOn:   r.PowerOn,
		Sensors:   make(map[string]map[string]string, len(r.Sensors)),
		States:    map[string]string(r.States),
		Alias:     alias,
		FetchedAt: at.UTC(),
	}
	for cat, m := range r.Sensors {
		snap.Sensors[cat] = map[string]string(m)
	}
	if snap.Device == nil {
		snap.Device = map[string]string{}
	}
	if snap.States == nil {
		snap.States = map[string]string{}
	}
	return snap
}

// stringMap decodes a JSON object whose values are scalars into strings.
// Numbers keep their literal text, booleans become "true"/"false" and nulls
// are dropped. Nested values are rejected.
type stringMap map[string]string

func (m *stringMap) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(stringMap, len(raw))
	for k, v := range raw {
		s, present, err := scalarString(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		if present {
			out[k] = s
		}
	}
	*m = out
	return nil
}

func scalarString(v json.RawMessage) (string, bool, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", false, nil
	}

	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return "", false, err
		}
		return strconv.FormatBool(b), true, nil
	case '{', '[':
		return "", false, fmt.Errorf("expected scalar, got %s", v[:1])
	default:
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return "", false, err
		}
		return n.String(), true, nil
	}
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
