package ipmi

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	core "github.com/nerrad567/gray-logic-ipmi/internal/ipmi"
)

// Config is the root configuration for the IPMI bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge  BridgeConfig   `yaml:"bridge"`
	Devices []DeviceConfig `yaml:"devices"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance.
	// Used in health reporting and discovery.
	ID string `yaml:"id" default:"ipmi-bridge-01"`

	// HealthInterval is how often to publish health status (seconds).
	HealthInterval int `yaml:"health_interval" default:"30"`

	// URL is the base URL of the IPMI HTTP bridge.
	URL string `yaml:"bridge_url" default:"http://localhost:9595"`

	// Timeout bounds each bridge request (seconds).
	Timeout int `yaml:"timeout" default:"10"`

	// ScanInterval is the default poll interval for devices (seconds).
	ScanInterval int `yaml:"scan_interval" default:"10"`

	// HistoryRetentionDays is how long state history is kept.
	// Zero disables pruning.
	HistoryRetentionDays int `yaml:"history_retention_days" default:"30"`

	// PruneSchedule is a cron spec for the history pruning job.
	PruneSchedule string `yaml:"prune_schedule" default:"@every 1h"`

	// Process optionally runs the IPMI HTTP bridge as a child process.
	Process ProcessConfig `yaml:"process"`
}

// ProcessConfig describes how to run the IPMI HTTP bridge daemon when it is
// not deployed separately. Durations are in seconds.
type ProcessConfig struct {
	Managed bool     `yaml:"managed"`
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	WorkDir string   `yaml:"work_dir"`

	RestartDelay    int `yaml:"restart_delay" default:"5"`
	MaxRestartDelay int `yaml:"max_restart_delay" default:"300"`
	MaxRestarts     int `yaml:"max_restarts" default:"10"`

	// StartupTimeout is how long to wait for the bridge URL to answer
	// before polling starts.
	StartupTimeout int `yaml:"startup_timeout" default:"30"`
	HealthInterval int `yaml:"health_interval" default:"30"`
}

// DeviceConfig defines one BMC reachable through the bridge.
type DeviceConfig struct {
	// ID names the device in configuration and logs. Defaults to Host.
	// The registry identity is derived from the first status fetch.
	ID string `yaml:"id"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port" default:"623"`
	Alias    string `yaml:"alias"`
	Username string `yaml:"username" default:"ADMIN"`

	// Password for the BMC account.
	// WARNING: Never log this value. Use String() method for safe logging.
	Password string `yaml:"password"`

	// ScanInterval overrides the bridge default (seconds). Zero means default.
	ScanInterval int `yaml:"scan_interval"`
}

// String returns a string representation with password masked.
func (d DeviceConfig) String() string {
	password := ""
	if d.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("DeviceConfig{ID:%q, Host:%q, Port:%d, Alias:%q, Username:%q, Password:%s}",
		d.ID, d.Host, d.Port, d.Alias, d.Username, password)
}

// MarshalJSON implements json.Marshaler to redact the password.
func (d DeviceConfig) MarshalJSON() ([]byte, error) {
	type redacted DeviceConfig
	safe := redacted(d)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// ToConnectionConfig converts the device settings for the core client.
func (d DeviceConfig) ToConnectionConfig() core.ConnectionConfig {
	return core.ConnectionConfig{
		Host:     d.Host,
		Port:     d.Port,
		Alias:    d.Alias,
		Username: d.Username,
		Password: d.Password,
	}
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (struct tags)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: IPMI_BRIDGE_KEY
// For example: IPMI_BRIDGE_URL, IPMI_BRIDGE_TIMEOUT
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig builds a validated Config from YAML bytes.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Elements of Devices only exist after unmarshalling.
	for i := range cfg.Devices {
		if err := defaults.Set(&cfg.Devices[i]); err != nil {
			return nil, fmt.Errorf("applying defaults to devices[%d]: %w", i, err)
		}
		if cfg.Devices[i].ID == "" {
			cfg.Devices[i].ID = cfg.Devices[i].Host
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IPMI_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("IPMI_BRIDGE_URL"); v != "" {
		cfg.Bridge.URL = v
	}
	if v := os.Getenv("IPMI_BRIDGE_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.Timeout = n
		}
	}
	if v := os.Getenv("IPMI_BRIDGE_SCAN_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.ScanInterval = n
		}
	}
	if v := os.Getenv("IPMI_BRIDGE_BINARY"); v != "" {
		cfg.Bridge.Process.Binary = v
	}
	if v := os.Getenv("IPMI_BRIDGE_HISTORY_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.HistoryRetentionDays = n
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.URL == "" {
		errs = append(errs, "bridge.bridge_url is required")
	}
	if c.Bridge.Timeout < 1 {
		errs = append(errs, "bridge.timeout must be at least 1 second")
	}
	if c.Bridge.ScanInterval < 1 {
		errs = append(errs, "bridge.scan_interval must be at least 1 second")
	}
	if c.Bridge.HistoryRetentionDays < 0 {
		errs = append(errs, "bridge.history_retention_days must not be negative")
	}
	if p := c.Bridge.Process; p.Managed {
		if p.Binary == "" {
			errs = append(errs, "bridge.process.binary is required when managed")
		}
		if p.RestartDelay < 1 || p.MaxRestartDelay < p.RestartDelay {
			errs = append(errs, "bridge.process restart delays must be at least 1 second and max_restart_delay >= restart_delay")
		}
		if p.MaxRestarts < 0 {
			errs = append(errs, "bridge.process.max_restarts must not be negative")
		}
		if p.StartupTimeout < 1 || p.HealthInterval < 1 {
			errs = append(errs, "bridge.process startup_timeout and health_interval must be at least 1 second")
		}
	}
	return errs
}

func (c *Config) validateDevices() []string {
	var errs []string
	ids := make(map[string]bool)
	endpoints := make(map[string]bool)
	aliases := make(map[string]int)

	for i, dev := range c.Devices {
		if dev.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].host is required", i))
			continue
		}
		if ids[dev.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicate", i, dev.ID))
		}
		ids[dev.ID] = true

		if err := dev.ToConnectionConfig().Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("devices[%d]: %v", i, err))
			continue
		}

		endpoint := fmt.Sprintf("%s:%d", dev.Host, dev.Port)
		if endpoints[endpoint] {
			errs = append(errs, fmt.Sprintf("devices[%d] %s is configured twice", i, endpoint))
		}
		endpoints[endpoint] = true

		// The alias is part of the derived identity; two boards of the same
		// make sharing one would be addressed as a single device.
		if dev.Alias != "" {
			if first, dup := aliases[dev.Alias]; dup {
				errs = append(errs, fmt.Sprintf("devices[%d].alias %q is already used by devices[%d]", i, dev.Alias, first))
			} else {
				aliases[dev.Alias] = i
			}
		}

		if dev.ScanInterval < 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].scan_interval must not be negative", i))
		}
	}

	return errs
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetTimeout returns the bridge request timeout as a Duration.
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Bridge.Timeout) * time.Second
}

// GetScanInterval returns the poll interval of a device.
func (c *Config) GetScanInterval(d DeviceConfig) time.Duration {
	if d.ScanInterval > 0 {
		return time.Duration(d.ScanInterval) * time.Second
	}
	return time.Duration(c.Bridge.ScanInterval) * time.Second
}

// GetHistoryRetention returns how long state history is kept; zero
// disables pruning.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Bridge.HistoryRetentionDays) * 24 * time.Hour
}
