package ipmi

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipmi.yaml")
	yaml := `
devices:
  - host: 10.0.0.5
    alias: rack3
    password: secret
  - id: lab
    host: 10.0.0.6
    port: 6230
    username: root
    scan_interval: 60
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Bridge.ID != "ipmi-bridge-01" || cfg.Bridge.URL != "http://localhost:9595" {
		t.Errorf("bridge defaults = %+v", cfg.Bridge)
	}
	if cfg.GetTimeout() != 10*time.Second || cfg.GetHealthInterval() != 30*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.GetTimeout(), cfg.GetHealthInterval())
	}
	if cfg.GetHistoryRetention() != 30*24*time.Hour || cfg.Bridge.PruneSchedule != "@every 1h" {
		t.Errorf("retention = %v, schedule = %q", cfg.GetHistoryRetention(), cfg.Bridge.PruneSchedule)
	}

	first := cfg.Devices[0]
	if first.ID != "10.0.0.5" || first.Port != 623 || first.Username != "ADMIN" {
		t.Errorf("device defaults = %+v", first)
	}
	if cfg.GetScanInterval(first) != 10*time.Second {
		t.Errorf("GetScanInterval(first) = %v, want bridge default", cfg.GetScanInterval(first))
	}

	second := cfg.Devices[1]
	if second.ID != "lab" || second.Port != 6230 || second.Username != "root" {
		t.Errorf("device overrides = %+v", second)
	}
	if cfg.GetScanInterval(second) != time.Minute {
		t.Errorf("GetScanInterval(second) = %v, want 1m", cfg.GetScanInterval(second))
	}

	p := cfg.Bridge.Process
	if p.Managed || p.RestartDelay != 5 || p.MaxRestartDelay != 300 || p.MaxRestarts != 10 || p.StartupTimeout != 30 || p.HealthInterval != 30 {
		t.Errorf("process defaults = %+v", p)
	}

	conn := first.ToConnectionConfig()
	if conn.Host != "10.0.0.5" || conn.Alias != "rack3" || conn.Password != "secret" {
		t.Errorf("ToConnectionConfig() = %+v", conn)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("IPMI_BRIDGE_URL", "http://ipmi.lan:9595")
	t.Setenv("IPMI_BRIDGE_TIMEOUT", "3")
	t.Setenv("IPMI_BRIDGE_HISTORY_RETENTION_DAYS", "0")
	t.Setenv("IPMI_BRIDGE_BINARY", "/opt/ipmi/bridge")

	cfg, err := ParseConfig([]byte("bridge:\n  process:\n    managed: true\ndevices:\n  - host: 10.0.0.5\n"))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Bridge.URL != "http://ipmi.lan:9595" || cfg.Bridge.Timeout != 3 {
		t.Errorf("bridge = %+v", cfg.Bridge)
	}
	if cfg.GetHistoryRetention() != 0 {
		t.Errorf("GetHistoryRetention() = %v, want disabled", cfg.GetHistoryRetention())
	}
	if cfg.Bridge.Process.Binary != "/opt/ipmi/bridge" {
		t.Errorf("process binary = %q, want env override", cfg.Bridge.Process.Binary)
	}
}

func TestParseConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing host", "devices:\n  - alias: x\n", "devices[0].host is required"},
		{"bad port", "devices:\n  - host: a\n    port: 70000\n", "out of range"},
		{"duplicate id", "devices:\n  - {id: a, host: h1}\n  - {id: a, host: h2}\n", "is duplicate"},
		{"duplicate alias", "devices:\n  - {id: a, host: h1, alias: server}\n  - {id: b, host: h2, alias: server}\n", `devices[1].alias "server" is already used by devices[0]`},
		{"duplicate endpoint", "devices:\n  - {id: a, host: h1}\n  - {id: b, host: h1}\n", "configured twice"},
		{"zero timeout", "bridge:\n  timeout: -1\n", "bridge.timeout"},
		{"empty url", "bridge:\n  bridge_url: \"\"\n", "bridge.bridge_url is required"},
		{"negative retention", "bridge:\n  history_retention_days: -1\n", "history_retention_days"},
		{"managed without binary", "bridge:\n  process:\n    managed: true\n", "bridge.process.binary is required"},
		{"managed bad delays", "bridge:\n  process:\n    managed: true\n    binary: /bin/b\n    restart_delay: 10\n    max_restart_delay: 5\n", "restart delays"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseConfig() error = %v, want containing %q", err, tt.want)
			}
		})
	}

	if _, err := ParseConfig([]byte("devices: [")); err == nil {
		t.Error("ParseConfig() should reject malformed YAML")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig() should fail for a missing file")
	}
}

func TestDeviceConfig_RedactsPassword(t *testing.T) {
	d := DeviceConfig{ID: "rack3", Host: "10.0.0.5", Port: 623, Password: "hunter2"}

	if s := d.String(); strings.Contains(s, "hunter2") || !strings.Contains(s, "[REDACTED]") {
		t.Errorf("String() = %s", s)
	}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("MarshalJSON() leaked password: %s", data)
	}
}
