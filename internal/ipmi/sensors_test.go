package ipmi

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSnapshotSensorList(t *testing.T) {
	snap := Snapshot{
		Sensors: map[string]map[string]string{
			"fan":         {"fan2": "FAN 2", "fan1": "FAN 1"},
			"temperature": {"cpu_temp": "CPU Temp"},
			"power":       {"psu_in": "PSU Input"},
			"intrusion":   {"chassis": "Chassis Intrusion"},
		},
		States: map[string]string{
			"fan1":     "3600",
			"fan2":     "",
			"cpu_temp": "42",
			"chassis":  "0",
		},
	}

	want := []Sensor{
		{ID: "cpu_temp", Name: "CPU Temp", Category: "temperature", Unit: "°C", DeviceClass: "temperature", StateClass: "measurement", Reading: "42", Available: true, EnabledByDefault: true},
		{ID: "fan1", Name: "FAN 1", Category: "fan", Unit: "RPM", Icon: "mdi:fan", StateClass: "measurement", Reading: "3600", Available: true, EnabledByDefault: true},
		{ID: "fan2", Name: "FAN 2", Category: "fan", Unit: "RPM", Icon: "mdi:fan", StateClass: "measurement"},
		{ID: "psu_in", Name: "PSU Input", Category: "power", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	}

	if diff := cmp.Diff(want, snap.SensorList()); diff != "" {
		t.Errorf("SensorList() mismatch (-want +got):\n%s", diff)
	}
}

func TestSensorValue(t *testing.T) {
	tests := []struct {
		reading string
		want    float64
		wantOK  bool
	}{
		{"42", 42, true},
		{"1.25", 1.25, true},
		{" 12 ", 12, true},
		{"", 0, false},
		{"na", 0, false},
	}
	for _, tt := range tests {
		got, ok := Sensor{Reading: tt.reading}.Value()
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Value(%q) = %v, %v; want %v, %v", tt.reading, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSnapshotInfo(t *testing.T) {
	tests := []struct {
		name   string
		device map[string]string
		want   DeviceInfo
	}{
		{
			name: "registry fields preferred",
			device: map[string]string{
				"product_manufacturer": "Supermicro",
				"manufacturer_name":    "SMC",
				"product_part_number":  "X11SSH",
				"product_name":         "X11",
				"firmware_revision":    "3.88",
			},
			want: DeviceInfo{Manufacturer: "SMC", Model: "X11", SWVersion: "3.88"},
		},
		{
			name: "falls back to product fields",
			device: map[string]string{
				"product_manufacturer": "Supermicro",
				"product_part_number":  "X11SSH",
			},
			want: DeviceInfo{Manufacturer: "Supermicro", Model: "X11SSH"},
		},
		{
			name:   "empty",
			device: nil,
			want:   DeviceInfo{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Snapshot{Device: tt.device}.Info()); diff != "" {
				t.Errorf("Info() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPowerStatus(t *testing.T) {
	if got := (Snapshot{PowerOn: true}).PowerStatus(); got != "ON" {
		t.Errorf("PowerStatus() = %q, want ON", got)
	}
	if got := (Snapshot{}).PowerStatus(); got != "OFF" {
		t.Errorf("PowerStatus() = %q, want OFF", got)
	}
}

func TestConnectionConfigRedaction(t *testing.T) {
	c := testConn()
	if s := c.String(); strings.Contains(s, "secret") {
		t.Errorf("String() leaks password: %s", s)
	}
	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("MarshalJSON() leaks password: %s", data)
	}
}
